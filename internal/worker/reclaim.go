package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/outreach/internal/claim"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reclaimer periodically hands recipients left processing by dead runners
// back to pending.
type Reclaimer struct {
	Queue      *claim.Queue
	Log        *zap.Logger
	Schedule   string        // cron spec or descriptor, e.g. "@every 5m"
	StaleAfter time.Duration // claims older than this are considered abandoned
}

func NewReclaimer(q *claim.Queue, log *zap.Logger, schedule string, staleAfter time.Duration) *Reclaimer {
	return &Reclaimer{Queue: q, Log: log, Schedule: schedule, StaleAfter: staleAfter}
}

// Run sweeps once immediately, then on every tick of Schedule until ctx ends.
func (r *Reclaimer) Run(ctx context.Context) error {
	if r.Queue == nil {
		return errors.New("reclaimer: missing queue")
	}
	if r.StaleAfter <= 0 {
		return errors.New("reclaimer: stale_after must be positive")
	}
	if r.Log == nil {
		r.Log = zap.NewNop()
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := c.AddFunc(r.Schedule, func() { r.Sweep(ctx) }); err != nil {
		return err
	}

	r.Sweep(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Sweep reclaims stale claims of every kind and returns the total released.
func (r *Reclaimer) Sweep(ctx context.Context) int64 {
	var total int64
	for _, k := range model.Kinds() {
		n, err := r.Queue.ReclaimStale(ctx, k, r.StaleAfter)
		if err != nil {
			r.Log.Error("stale reclaim failed", zap.String("kind", k.String()), zap.Error(err))
			continue
		}
		if n > 0 {
			r.Log.Info("stale claims released", zap.String("kind", k.String()), zap.Int64("released", n))
		}
		total += n
	}
	return total
}
