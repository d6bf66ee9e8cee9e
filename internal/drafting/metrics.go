package drafting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	modelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "drafting",
		Name:      "model_calls_total",
		Help:      "Model calls by outcome.",
	}, []string{"outcome"})

	modelLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "draftdesk",
		Subsystem: "drafting",
		Name:      "model_call_duration_seconds",
		Help:      "Model call latency.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30},
	})

	placeholders = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "drafting",
		Name:      "placeholders_total",
		Help:      "Proposals backfilled with placeholder text.",
	})
)
