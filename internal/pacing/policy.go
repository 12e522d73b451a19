package pacing

import (
	"fmt"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
)

// Lowest refill interval any policy may configure.
const FloorInterval = 2 * time.Second

// Policy tunes the adaptive controller for one operation kind.
type Policy struct {
	MinInterval   time.Duration
	MaxInterval   time.Duration
	SpeedupStreak int
	SpeedupFactor float64
	SlowdownMin   float64
	SlowdownMax   float64

	// CountsTowardDailyCap makes successful actions of this kind bump the
	// account's daily counter and subjects runs of this kind to the cap.
	CountsTowardDailyCap bool
}

// DefaultPolicy returns the stock tuning for k.
func DefaultPolicy(k model.Kind) Policy {
	return Policy{
		MinInterval:          FloorInterval,
		MaxInterval:          600 * time.Second,
		SpeedupStreak:        5,
		SpeedupFactor:        0.9,
		SlowdownMin:          1.5,
		SlowdownMax:          2.0,
		CountsTowardDailyCap: k == model.KindSend,
	}
}

// Normalize fills zero values with defaults and enforces the floor interval.
func (p Policy) Normalize(k model.Kind) Policy {
	d := DefaultPolicy(k)
	if p.MinInterval < FloorInterval {
		p.MinInterval = FloorInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.MaxInterval < p.MinInterval {
		p.MaxInterval = p.MinInterval
	}
	if p.SpeedupStreak <= 0 {
		p.SpeedupStreak = d.SpeedupStreak
	}
	if p.SpeedupFactor <= 0 || p.SpeedupFactor >= 1 {
		p.SpeedupFactor = d.SpeedupFactor
	}
	if p.SlowdownMin < 1 {
		p.SlowdownMin = d.SlowdownMin
	}
	if p.SlowdownMax < p.SlowdownMin {
		p.SlowdownMax = p.SlowdownMin
	}
	return p
}

func (p Policy) String() string {
	return fmt.Sprintf("min=%s max=%s streak=%d factor=%.2f slowdown=[%.2f,%.2f]",
		p.MinInterval, p.MaxInterval, p.SpeedupStreak, p.SpeedupFactor, p.SlowdownMin, p.SlowdownMax)
}

func (p Policy) minSeconds() float64 { return p.MinInterval.Seconds() }
func (p Policy) maxSeconds() float64 { return p.MaxInterval.Seconds() }
