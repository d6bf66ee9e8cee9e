package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "fetcher",
		Name:      "requests_total",
		Help:      "Upstream API calls by operation and outcome.",
	}, []string{"op", "outcome"})

	fetchCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "fetcher",
		Name:      "candidates_total",
		Help:      "Candidate posts returned by operation.",
	}, []string{"op"})

	poolCooloffs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "fetcher",
		Name:      "cooloffs_total",
		Help:      "Pool-wide pauses triggered by rate-limited responses.",
	})
)
