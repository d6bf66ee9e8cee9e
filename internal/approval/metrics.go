package approval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "approval",
		Name:      "decisions_total",
		Help:      "Applied approval decisions by lane and action.",
	}, []string{"lane", "action"})

	postFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "approval",
		Name:      "post_failures_total",
		Help:      "Confirm or edit actions whose publish call failed.",
	})
)
