package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/outreach/internal/kafka"
	"github.com/jmehdipour/outreach/internal/lock"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/outreach"
	"github.com/jmehdipour/outreach/internal/repository"
	"go.uber.org/zap"
)

// ReasonAccountBusy marks runs rejected because another runner holds the account.
const ReasonAccountBusy = "account_busy"

// ReasonLeaseLost marks runs stopped because the account lock could not be kept.
const ReasonLeaseLost = "lease_lost"

// Source is the stream of run commands.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Executor runs one outreach batch.
type Executor interface {
	Run(ctx context.Context, req outreach.Request) (outreach.Result, error)
}

// RunnerKafka:
// - fetches run commands from Kafka,
// - takes the per-account lease so an account never has two active runners,
// - executes the run and records its outcome on the run row.
type RunnerKafka struct {
	// Dependencies
	Source   Source
	Runs     repository.RunsRepository
	Executor Executor
	Locker   lock.Locker
	Log      *zap.Logger

	// Behavior
	Workers  int           // number of goroutines executing runs
	LockTTL  time.Duration // lease length, refreshed every third of it
	Instance string        // lease owner prefix for this process
}

func NewRunnerKafka(src Source, runs repository.RunsRepository, exec Executor, locker lock.Locker, log *zap.Logger) *RunnerKafka {
	return &RunnerKafka{
		Source:   src,
		Runs:     runs,
		Executor: exec,
		Locker:   locker,
		Log:      log,
		Workers:  8,
		LockTTL:  30 * time.Second,
	}
}

// Run starts the worker and blocks until ctx is cancelled and every
// in-flight run has released its batch.
func (w *RunnerKafka) Run(ctx context.Context) error {
	if w.Source == nil || w.Runs == nil || w.Executor == nil || w.Locker == nil {
		return errors.New("runner-kafka: missing dependency")
	}
	if w.Workers <= 0 {
		w.Workers = 8
	}
	if w.LockTTL <= 0 {
		w.LockTTL = 30 * time.Second
	}
	if w.Log == nil {
		w.Log = zap.NewNop()
	}

	msgCh := make(chan kafka.Message, w.Workers)

	go func() {
		defer close(msgCh)
		for {
			m, err := w.Source.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgCh {
				w.processOne(ctx, m)
			}
		}()
	}
	wg.Wait()
	return nil
}

// processOne handles a single command. The message is committed once the run
// row reflects the outcome; cancelled runs are committed too since their
// batch has been released and the command can be resubmitted.
func (w *RunnerKafka) processOne(ctx context.Context, m kafka.Message) {
	commit := func() {
		if err := w.Source.Commit(context.WithoutCancel(ctx), m); err != nil {
			w.Log.Warn("kafka commit failed", zap.Error(err))
		}
	}

	var cmd model.RunCommand
	if err := json.Unmarshal(kafka.OutboxPayload(m.Value), &cmd); err != nil || cmd.RunID == "" || !cmd.Kind.Valid() {
		w.Log.Error("bad run command, skipping", zap.ByteString("value", m.Value), zap.Error(err))
		commit()
		return
	}
	log := w.Log.With(zap.String("run_id", cmd.RunID), zap.Int64("account_id", cmd.AccountID))

	started, err := w.Runs.MarkRunning(ctx, cmd.RunID)
	if err != nil {
		log.Error("mark run running failed", zap.Error(err))
		return
	}
	if !started {
		log.Info("run already handled, skipping")
		commit()
		return
	}

	run := model.Run{ID: cmd.RunID}
	held, release, err := lock.Hold(ctx, w.Locker, lock.AccountKey(cmd.AccountID), w.Instance+cmd.RunID, w.LockTTL)
	switch {
	case errors.Is(err, lock.ErrHeld):
		log.Info("account busy, run rejected")
		run.Status, run.Reason = model.RunRejected, ReasonAccountBusy
		w.finish(ctx, log, run)
		commit()
		return
	case err != nil:
		log.Error("acquire account lock failed", zap.Error(err))
		run.Status, run.Reason = model.RunErrored, "lock: "+err.Error()
		w.finish(ctx, log, run)
		commit()
		return
	}

	res, err := w.Executor.Run(held, outreach.RequestFromCommand(cmd))
	cause := context.Cause(held)
	release()

	run.Claimed = res.Claimed
	run.Succeeded = res.Succeeded
	run.Failed = res.Failed
	run.Skipped = res.Skipped
	run.Released = res.Released
	run.Reason = string(res.Reason)
	if errors.Is(cause, lock.ErrLeaseLost) {
		log.Warn("account lock lost mid-run", zap.Error(cause))
		run.Reason = ReasonLeaseLost
	}
	if err != nil {
		log.Error("run failed", zap.Error(err))
		run.Status, run.Reason = model.RunErrored, err.Error()
	} else {
		run.Status = model.RunFinished
	}
	w.finish(ctx, log, run)
	commit()
}

func (w *RunnerKafka) finish(ctx context.Context, log *zap.Logger, run model.Run) {
	if err := w.Runs.Finish(context.WithoutCancel(ctx), run); err != nil {
		log.Error("record run outcome failed", zap.Error(err))
	}
}
