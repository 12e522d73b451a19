package pacing

import (
	"math"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
)

// Decision is the outcome of a token request.
type Decision struct {
	Granted     bool
	WaitSeconds int // 0 when granted, >= 1 otherwise
}

// Wait returns WaitSeconds as a duration.
func (d Decision) Wait() time.Duration {
	return time.Duration(d.WaitSeconds) * time.Second
}

// TryConsume refills st for the whole intervals elapsed since st.RefillAt and
// takes one token if available. The refill clock only advances by whole
// intervals so partial progress carries over to the next call.
// st is mutated in place; callers persist it.
func TryConsume(st *model.RateLimitState, now time.Time, minInterval float64) Decision {
	interval := st.RefillSeconds
	if interval < minInterval {
		interval = minInterval
		st.RefillSeconds = interval
	}
	if st.Capacity < 1 {
		st.Capacity = 1
	}
	if st.Tokens < 0 {
		st.Tokens = 0
	}
	if st.Tokens > st.Capacity {
		st.Tokens = st.Capacity
	}
	if st.RefillAt == nil {
		t := now
		st.RefillAt = &t
	}

	elapsed := now.Sub(*st.RefillAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	gained := math.Floor(elapsed / interval)
	if gained > 0 {
		st.Tokens = min(st.Capacity, st.Tokens+int(math.Min(gained, float64(st.Capacity))))
		advanced := st.RefillAt.Add(secondsToDuration(gained * interval))
		st.RefillAt = &advanced
	}

	if st.Tokens <= 0 {
		remainder := math.Mod(elapsed, interval)
		wait := int(math.Ceil(interval - remainder))
		if wait < 1 {
			wait = 1
		}
		return Decision{Granted: false, WaitSeconds: wait}
	}

	st.Tokens--
	return Decision{Granted: true}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
