package pacing

import (
	"math"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
)

// Controller adjusts refill intervals from action outcomes.
type Controller struct {
	policy Policy
	rnd    func() float64 // uniform in [0,1)
}

func NewController(p Policy, rnd func() float64) *Controller {
	return &Controller{policy: p, rnd: rnd}
}

// Speedup counts a success. Every SpeedupStreak consecutive successes the
// interval shrinks by SpeedupFactor, never below MinInterval.
func (c *Controller) Speedup(st *model.RateLimitState) {
	st.SuccessStreak++
	if st.SuccessStreak < c.policy.SpeedupStreak {
		return
	}
	st.RefillSeconds = math.Max(c.policy.minSeconds(), st.RefillSeconds*c.policy.SpeedupFactor)
	st.SuccessStreak = 0
}

// Slowdown applies a rate-limit signal: accumulated tokens and streak are
// dropped and the refill clock restarts at now. An explicit server wait
// raises the interval to at least that wait; otherwise the interval grows by
// a random factor in [SlowdownMin, SlowdownMax] up to MaxInterval.
func (c *Controller) Slowdown(st *model.RateLimitState, now time.Time, serverWait time.Duration) {
	st.Tokens = 0
	t := now
	st.RefillAt = &t
	st.SuccessStreak = 0

	current := st.RefillSeconds
	if serverWait > 0 {
		st.RefillSeconds = math.Max(current, math.Ceil(serverWait.Seconds()))
	} else {
		factor := c.policy.SlowdownMin + c.rnd()*(c.policy.SlowdownMax-c.policy.SlowdownMin)
		st.RefillSeconds = math.Min(c.policy.maxSeconds(), current*factor)
	}
	st.RefillSeconds = math.Max(c.policy.minSeconds(), st.RefillSeconds)
}

// Reset breaks the success streak after a failure that is not a rate-limit signal.
func (c *Controller) Reset(st *model.RateLimitState) {
	st.SuccessStreak = 0
}
