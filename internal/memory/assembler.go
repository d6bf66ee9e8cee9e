package memory

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"draftdesk/pkg/logging"
)

// DefaultFactLimit caps how many facts feed one drafting context.
const DefaultFactLimit = 200

var (
	contextSources = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "memory",
		Name:      "contexts_total",
		Help:      "Assembled drafting contexts by source.",
	}, []string{"source"})

	factWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftdesk",
		Subsystem: "memory",
		Name:      "fact_writes_total",
		Help:      "Behavioral fact writes by outcome.",
	}, []string{"outcome"})
)

// AssembledContext is the steering text handed to the draft generator.
type AssembledContext struct {
	Text string
	// FromMemory is true when Text was built from behavioral facts rather
	// than the persona.
	FromMemory bool
}

// Assembler builds drafting context from memory, falling back to the persona.
type Assembler struct {
	store  Store
	limit  int
	logger logging.Logger
}

func NewAssembler(store Store, limit int, logger logging.Logger) *Assembler {
	if limit <= 0 {
		limit = DefaultFactLimit
	}
	return &Assembler{store: store, limit: limit, logger: logger}
}

// Assemble never fails. A memory read error is treated as an empty memory.
func (a *Assembler) Assemble(ctx context.Context, owner, persona string) AssembledContext {
	facts, err := a.store.GetAll(ctx, owner, a.limit)
	if err != nil {
		a.logger.WithError(err).WithField("user_id", owner).Warn("Behavioral memory unavailable, using persona")
		facts = nil
	}
	if len(facts) > a.limit {
		facts = facts[:a.limit]
	}

	var b strings.Builder
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f.Text)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		contextSources.WithLabelValues("persona").Inc()
		return AssembledContext{Text: persona}
	}
	contextSources.WithLabelValues("memory").Inc()
	return AssembledContext{Text: b.String(), FromMemory: true}
}
