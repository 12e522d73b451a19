package pacing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jmehdipour/outreach/internal/metrics"
	"github.com/jmehdipour/outreach/internal/model"
)

// AccountLocker runs fn against the current account row inside an exclusive
// per-account critical section and persists the mutated pacing fields when fn
// returns nil. Implementations must never hold the section longer than fn.
type AccountLocker interface {
	WithAccountLock(ctx context.Context, accountID int64, fn func(a *model.Account) error) error
}

// Pacer applies the token bucket and the adaptive controller to stored accounts.
type Pacer struct {
	accounts AccountLocker
	policies map[model.Kind]Policy
	ctrls    map[model.Kind]*Controller
	now      func() time.Time
}

// New builds a Pacer. Missing policies fall back to DefaultPolicy; nil now
// and rnd default to time.Now and math/rand/v2.
func New(accounts AccountLocker, policies map[model.Kind]Policy, now func() time.Time, rnd func() float64) *Pacer {
	if now == nil {
		now = time.Now
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	p := &Pacer{
		accounts: accounts,
		policies: make(map[model.Kind]Policy, 2),
		ctrls:    make(map[model.Kind]*Controller, 2),
		now:      now,
	}
	for _, k := range model.Kinds() {
		pol, ok := policies[k]
		if !ok {
			pol = DefaultPolicy(k)
		}
		pol = pol.Normalize(k)
		p.policies[k] = pol
		p.ctrls[k] = NewController(pol, rnd)
	}
	return p
}

// Policy returns the effective policy for k.
func (p *Pacer) Policy(k model.Kind) Policy { return p.policies[k] }

func (p *Pacer) withState(ctx context.Context, accountID int64, k model.Kind, fn func(a *model.Account, st *model.RateLimitState, now time.Time)) (model.RateLimitState, error) {
	if !k.Valid() {
		return model.RateLimitState{}, model.ErrInvalidKind
	}
	var out model.RateLimitState
	err := p.accounts.WithAccountLock(ctx, accountID, func(a *model.Account) error {
		st := a.State(k)
		fn(a, st, p.now())
		out = *st
		return nil
	})
	if err != nil {
		return model.RateLimitState{}, fmt.Errorf("pacing %s account=%d: %w", k, accountID, err)
	}
	return out, nil
}

// TryConsume takes one token for (accountID, k) if the bucket allows it.
func (p *Pacer) TryConsume(ctx context.Context, accountID int64, k model.Kind) (Decision, error) {
	var d Decision
	_, err := p.withState(ctx, accountID, k, func(_ *model.Account, st *model.RateLimitState, now time.Time) {
		d = TryConsume(st, now, p.policies[k].minSeconds())
	})
	return d, err
}

// RecordSuccess runs the speedup policy and bumps the daily counter when the
// kind counts toward the cap.
func (p *Pacer) RecordSuccess(ctx context.Context, accountID int64, k model.Kind) (model.RateLimitState, error) {
	st, err := p.withState(ctx, accountID, k, func(a *model.Account, st *model.RateLimitState, now time.Time) {
		p.ctrls[k].Speedup(st)
		if p.policies[k].CountsTowardDailyCap {
			a.IncDaily(now)
		}
	})
	if err == nil {
		metrics.RefillInterval.WithLabelValues(k.String()).Observe(st.RefillSeconds)
	}
	return st, err
}

// RecordRateLimit runs the slowdown policy. A non-nil cooldownUntil is stored
// on the account in the same critical section.
func (p *Pacer) RecordRateLimit(ctx context.Context, accountID int64, k model.Kind, serverWait time.Duration, cooldownUntil *time.Time) (model.RateLimitState, error) {
	st, err := p.withState(ctx, accountID, k, func(a *model.Account, st *model.RateLimitState, now time.Time) {
		p.ctrls[k].Slowdown(st, now, serverWait)
		if cooldownUntil != nil {
			until := *cooldownUntil
			a.CooldownUntil = &until
		}
	})
	if err == nil {
		metrics.RefillInterval.WithLabelValues(k.String()).Observe(st.RefillSeconds)
	}
	return st, err
}

// RecordFailure breaks the success streak.
func (p *Pacer) RecordFailure(ctx context.Context, accountID int64, k model.Kind) error {
	_, err := p.withState(ctx, accountID, k, func(_ *model.Account, st *model.RateLimitState, _ time.Time) {
		p.ctrls[k].Reset(st)
	})
	return err
}
