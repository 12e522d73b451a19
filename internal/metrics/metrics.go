package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_actions_total",
			Help: "Recipient actions by kind and outcome",
		},
		[]string{"kind", "outcome"}, // invite|send , invited|sent|failed|skipped
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_runs_total",
			Help: "Finished runs by kind and stop reason",
		},
		[]string{"kind", "reason"},
	)

	ReleasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_released_total",
			Help: "Recipients reverted from processing to pending",
		},
		[]string{"kind", "cause"}, // run|stale
	)

	ClaimsLost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_claims_lost_total",
			Help: "Recipients skipped because their claim was swept mid-run",
		},
		[]string{"kind"},
	)

	TokenWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_token_wait_seconds",
			Help:    "Time a runner slept waiting for a token",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"kind"},
	)

	RefillInterval = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_refill_interval_seconds",
			Help:    "Refill interval observed after each pacing adjustment",
			Buckets: []float64{2, 5, 10, 20, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind"},
	)
)

var registerOnce sync.Once

// MustRegister registers every collector once per process.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			ActionsTotal,
			RunsTotal,
			ReleasedTotal,
			ClaimsLost,
			TokenWait,
			RefillInterval,
		)
	})
}
