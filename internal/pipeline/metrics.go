package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var draftsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "draftdesk",
	Subsystem: "pipeline",
	Name:      "drafts_saved_total",
	Help:      "Drafted items upserted by kind.",
}, []string{"kind"})
