package outreach

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jmehdipour/outreach/internal/claim"
	"github.com/jmehdipour/outreach/internal/lifecycle"
	"github.com/jmehdipour/outreach/internal/metrics"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/pacing"
	"github.com/jmehdipour/outreach/internal/platform"
	"github.com/jmehdipour/outreach/internal/repository"
	"go.uber.org/zap"
)

type Config struct {
	MaxBatch     int           // default 500
	MaxTokenWait time.Duration // longest in-process sleep for a token, default 60s
	HardStopWait time.Duration // rate-limit wait that ends the run and sets a cooldown, default 1800s
	Jitter       time.Duration // upper bound of random delay added to the request interval
}

func (c Config) withDefaults() Config {
	if c.MaxBatch <= 0 {
		c.MaxBatch = claim.DefaultMaxBatch
	}
	if c.MaxTokenWait <= 0 {
		c.MaxTokenWait = 60 * time.Second
	}
	if c.HardStopWait <= 0 {
		c.HardStopWait = 1800 * time.Second
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Deps are the collaborators of a Runner. Now, Sleep and Jitter are optional.
type Deps struct {
	Accounts repository.AccountsRepository
	Queue    *claim.Queue
	Pacer    *pacing.Pacer
	Machine  *lifecycle.Machine
	Client   platform.Client

	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(max time.Duration) time.Duration
}

// Runner executes outreach runs: one account, one kind, one action at a time.
// Recipient state and pacing state are only touched through their stores'
// critical sections; platform calls happen outside them.
type Runner struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
}

func NewRunner(deps Deps, cfg Config, log *zap.Logger) *Runner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	if deps.Jitter == nil {
		deps.Jitter = uniformJitter
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg.withDefaults(), log: log}
}

// Run processes one batch for req.AccountID. Per-recipient failures are
// recorded and never end the run; the returned error is reserved for storage
// failures. Whatever happens, no recipient of the batch is left processing.
func (r *Runner) Run(ctx context.Context, req Request) (res Result, err error) {
	res = Result{RunID: req.RunID, AccountID: req.AccountID, Kind: req.Kind}
	if err := req.validate(); err != nil {
		return res, err
	}
	log := r.log.With(
		zap.String("run_id", req.RunID),
		zap.Int64("account_id", req.AccountID),
		zap.String("kind", req.Kind.String()),
	)

	acct, err := r.deps.Accounts.Get(ctx, req.AccountID)
	if err != nil {
		return res, fmt.Errorf("load account %d: %w", req.AccountID, err)
	}
	now := r.deps.Now()
	if acct.InCooldown(now) {
		res.Reason = ReasonCooldown
		res.RetryAfter = acct.CooldownUntil.Sub(now)
		res.CooldownUntil = acct.CooldownUntil
		log.Info("account in cooldown, run refused", zap.Time("cooldown_until", *acct.CooldownUntil))
		return res, nil
	}
	if acct.StopRequested {
		res.Reason = ReasonStopRequested
		return res, nil
	}

	limit := req.Limit
	if limit <= 0 || limit > r.cfg.MaxBatch {
		limit = r.cfg.MaxBatch
	}
	batch, err := r.deps.Queue.Claim(ctx, req.OwnerID, req.Kind, limit)
	if err != nil {
		return res, err
	}
	res.Claimed = batch.Len()
	log.Info("batch claimed", zap.Int("claimed", res.Claimed), zap.String("token", batch.Token))

	defer func() {
		// Detached from ctx so a cancelled run still hands its leftovers back.
		n, rerr := r.deps.Queue.Release(context.WithoutCancel(ctx), batch)
		res.Released = int(n)
		if rerr != nil {
			log.Error("release batch failed", zap.Error(rerr))
			err = errors.Join(err, rerr)
		}
		if err == nil {
			metrics.RunsTotal.WithLabelValues(req.Kind.String(), string(res.Reason)).Inc()
		}
		log.Info("run finished",
			zap.String("reason", string(res.Reason)),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
			zap.Int("released", res.Released),
			zap.Error(err),
		)
	}()

	for i := range batch.Items {
		if reason, stop, serr := r.shouldStop(ctx, req); serr != nil {
			return res, serr
		} else if stop {
			res.Reason = reason
			return res, nil
		}

		st, serr := r.processOne(ctx, log, req, batch, &batch.Items[i], &res)
		if serr != nil {
			return res, serr
		}
		if st.reason != "" {
			res.Reason = st.reason
			res.RetryAfter = st.retryAfter
			res.CooldownUntil = st.cooldownUntil
			return res, nil
		}

		if st.acted && i < len(batch.Items)-1 {
			delay := req.Interval + r.deps.Jitter(r.cfg.Jitter)
			if err := r.deps.Sleep(ctx, delay); err != nil {
				res.Reason = ReasonCanceled
				return res, nil
			}
		}
	}

	res.Reason = ReasonCompleted
	return res, nil
}

// shouldStop checks cancellation, the operator stop flag, a cooldown set by
// someone else and the daily cap, in that order.
func (r *Runner) shouldStop(ctx context.Context, req Request) (Reason, bool, error) {
	if ctx.Err() != nil {
		return ReasonCanceled, true, nil
	}
	acct, err := r.deps.Accounts.Get(ctx, req.AccountID)
	if err != nil {
		if ctx.Err() != nil {
			return ReasonCanceled, true, nil
		}
		return "", false, fmt.Errorf("reload account %d: %w", req.AccountID, err)
	}
	now := r.deps.Now()
	switch {
	case acct.StopRequested:
		return ReasonStopRequested, true, nil
	case acct.InCooldown(now):
		return ReasonCooldown, true, nil
	case r.deps.Pacer.Policy(req.Kind).CountsTowardDailyCap && acct.DailyCapReached(now):
		return ReasonDailyCap, true, nil
	}
	return "", false, nil
}

// step is what processing one recipient tells the loop.
type step struct {
	acted         bool // a platform action was attempted
	reason        Reason
	retryAfter    time.Duration
	cooldownUntil *time.Time
}

func (r *Runner) processOne(ctx context.Context, log *zap.Logger, req Request, batch *claim.Batch, rec *model.Recipient, res *Result) (step, error) {
	log = log.With(zap.Int64("recipient_id", rec.ID))

	if st, held, err := r.stillClaimed(ctx, log, batch, rec); !held {
		return st, err
	}

	var h platform.Handle
	rerr := guard(func() error {
		var err error
		h, err = r.deps.Client.ResolveIdentity(ctx, req.AccountID, rec.Ref)
		return err
	})
	if rerr != nil {
		if ctx.Err() != nil {
			return step{reason: ReasonCanceled}, nil
		}
		if errors.Is(rerr, platform.ErrBridgeUnavailable) {
			log.Warn("platform unavailable, run aborted", zap.Error(rerr))
			return step{reason: ReasonPlatformUnavailable}, nil
		}
		o := lifecycle.Classify(rerr)
		log.Debug("resolve failed", zap.String("class", string(o.Class)), zap.Error(rerr))
		if err := r.record(ctx, log, req, batch, rec, lifecycle.StageResolve, o, res); err != nil {
			return step{}, err
		}
		if o.Class == lifecycle.ClassRateLimited {
			return r.onRateLimit(context.WithoutCancel(ctx), log, req, o)
		}
		return step{}, nil
	}

	for {
		d, err := r.deps.Pacer.TryConsume(ctx, req.AccountID, req.Kind)
		if err != nil {
			if ctx.Err() != nil {
				return step{reason: ReasonCanceled}, nil
			}
			return step{}, err
		}
		if d.Granted {
			break
		}
		if d.Wait() > r.cfg.MaxTokenWait {
			log.Info("insufficient tokens, retry later", zap.Int("wait_seconds", d.WaitSeconds))
			return step{reason: ReasonInsufficientTokens, retryAfter: d.Wait()}, nil
		}
		metrics.TokenWait.WithLabelValues(req.Kind.String()).Observe(d.Wait().Seconds())
		if err := r.deps.Sleep(ctx, d.Wait()); err != nil {
			return step{reason: ReasonCanceled}, nil
		}
		if reason, stop, err := r.shouldStop(ctx, req); err != nil {
			return step{}, err
		} else if stop {
			return step{reason: reason}, nil
		}
	}

	// Token waits can be long; make sure the row was not swept meanwhile.
	if st, held, err := r.stillClaimed(ctx, log, batch, rec); !held {
		return st, err
	}

	aerr := guard(func() error {
		if req.Kind == model.KindInvite {
			return r.deps.Client.PerformInvite(ctx, req.AccountID, req.Channel, h)
		}
		return r.deps.Client.PerformSend(ctx, req.AccountID, h, req.Payload)
	})
	if errors.Is(aerr, platform.ErrCircuitOpen) {
		// Nothing was sent.
		log.Warn("platform unavailable, run aborted", zap.Error(aerr))
		return step{reason: ReasonPlatformUnavailable}, nil
	}
	o := lifecycle.Classify(aerr)
	if err := r.record(ctx, log, req, batch, rec, lifecycle.StageAction, o, res); err != nil {
		return step{}, err
	}

	// The action went out; its pacing effect is kept even if ctx was cancelled meanwhile.
	pctx := context.WithoutCancel(ctx)
	switch o.Class {
	case lifecycle.ClassOK:
		if _, err := r.deps.Pacer.RecordSuccess(pctx, req.AccountID, req.Kind); err != nil {
			return step{}, err
		}
	case lifecycle.ClassRateLimited:
		st, err := r.onRateLimit(pctx, log, req, o)
		st.acted = true
		return st, err
	default:
		log.Debug("action failed", zap.String("class", string(o.Class)), zap.Error(aerr))
		if err := r.deps.Pacer.RecordFailure(pctx, req.AccountID, req.Kind); err != nil {
			return step{}, err
		}
	}
	return step{acted: true}, nil
}

// stillClaimed renews the batch's claim on rec. held is false when the loop
// must not act on rec: the row was reclaimed, ctx ended, or storage failed.
func (r *Runner) stillClaimed(ctx context.Context, log *zap.Logger, batch *claim.Batch, rec *model.Recipient) (step, bool, error) {
	ok, err := r.deps.Queue.Touch(ctx, batch, rec.ID)
	switch {
	case err != nil && ctx.Err() != nil:
		return step{reason: ReasonCanceled}, false, nil
	case err != nil:
		return step{}, false, err
	case !ok:
		log.Warn("recipient reclaimed from this run, skipped")
		metrics.ClaimsLost.WithLabelValues(batch.Kind.String()).Inc()
		return step{}, false, nil
	}
	return step{}, true, nil
}

// onRateLimit applies the slowdown and, for waits at or above the hard-stop
// threshold, puts the account into cooldown and ends the run.
func (r *Runner) onRateLimit(ctx context.Context, log *zap.Logger, req Request, o lifecycle.Outcome) (step, error) {
	var until *time.Time
	if o.Wait >= r.cfg.HardStopWait {
		t := r.deps.Now().Add(o.Wait)
		until = &t
	}
	st, err := r.deps.Pacer.RecordRateLimit(ctx, req.AccountID, req.Kind, o.Wait, until)
	if err != nil {
		return step{}, err
	}
	log.Warn("rate limited",
		zap.Duration("wait", o.Wait),
		zap.Float64("refill_seconds", st.RefillSeconds),
		zap.Bool("hard_stop", until != nil),
	)
	if until != nil {
		return step{reason: ReasonHardStop, retryAfter: o.Wait, cooldownUntil: until}, nil
	}
	return step{}, nil
}

func (r *Runner) record(ctx context.Context, log *zap.Logger, req Request, batch *claim.Batch, rec *model.Recipient, stage lifecycle.Stage, o lifecycle.Outcome, res *Result) error {
	out, err := r.deps.Machine.Apply(context.WithoutCancel(ctx), req.Kind, batch.Token, rec, req.AccountID, stage, o)
	if errors.Is(err, repository.ErrNotClaimed) {
		// Swept between the last touch and now.
		log.Warn("recipient no longer claimed by this run", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	switch out.Status {
	case model.StatusFailed:
		res.Failed++
	case model.StatusSkipped:
		res.Skipped++
	default:
		res.Succeeded++
	}
	return nil
}

// guard turns a panic inside a platform call into an untyped error, which
// classifies as UNKNOWN.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("platform call panicked: %v", p)
		}
	}()
	return fn()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
