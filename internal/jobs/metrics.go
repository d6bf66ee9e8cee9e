package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "jobs",
		Name:      "enqueued_total",
		Help:      "Jobs enqueued by type and trigger.",
	}, []string{"type", "trigger"})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Jobs reaching a terminal status.",
	}, []string{"type", "status"})

	jobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "jobs",
		Name:      "attempts_total",
		Help:      "Handler attempts by type and outcome.",
	}, []string{"type", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "draftdesk",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall time from first attempt to terminal status.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"type"})

	jobsRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "jobs",
		Name:      "rate_limited_total",
		Help:      "Dispatches deferred by the fleet-wide rate limit.",
	}, []string{"type"})

	scheduleFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "jobs",
		Name:      "schedule_fires_total",
		Help:      "Cron fires by outcome.",
	}, []string{"outcome"})
)
