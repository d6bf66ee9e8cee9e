package persona

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var personaBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "draftdesk",
	Subsystem: "persona",
	Name:      "builds_total",
	Help:      "Persona generations by outcome.",
}, []string{"outcome"})
