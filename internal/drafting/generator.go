// Package drafting selects posts worth engaging with and drafts replies and
// rewrites for them with a generative model.
package drafting

import (
	"context"
	"time"

	"draftdesk/internal/memory"
	"draftdesk/internal/models"
	"draftdesk/pkg/llm"
	"draftdesk/pkg/logging"
)

// MaxProposals is the number of drafts produced per query.
const MaxProposals = 5

const (
	PlaceholderReply   = "Thanks for sharing! This is really insightful."
	PlaceholderRewrite = "Interesting perspective on this topic. Worth considering for implementation."
)

// Request describes one drafting round.
type Request struct {
	Candidates []models.CandidatePost
	Context    memory.AssembledContext
	// Kind picks the query header: a keyword search or an account timeline.
	Kind  models.DraftKind
	Query string
	// WantRewrite asks for a standalone rewrite alongside each reply.
	WantRewrite bool
}

// Proposal is a drafted candidate. Index is the 1-based position in the
// request's candidate list.
type Proposal struct {
	Index       int
	Candidate   models.CandidatePost
	Reply       string
	Rewrite     string
	Placeholder bool
}

// Generator drafts proposals with one model call per request.
type Generator struct {
	provider llm.Provider
	timeout  time.Duration
	logger   logging.Logger
}

func NewGenerator(provider llm.Provider, timeout time.Duration, logger logging.Logger) *Generator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Generator{provider: provider, timeout: timeout, logger: logger}
}

// Draft returns exactly min(MaxProposals, len(req.Candidates)) proposals with
// distinct indices. Model failures degrade to placeholder drafts.
func (g *Generator) Draft(ctx context.Context, req Request) []Proposal {
	if len(req.Candidates) == 0 {
		return nil
	}

	log := g.logger.WithFields(logging.Fields{
		"query":       req.Query,
		"kind":        req.Kind,
		"candidates":  len(req.Candidates),
		"from_memory": req.Context.FromMemory,
	})

	text, err := g.generate(ctx, BuildPrompt(req))
	if err != nil {
		modelCalls.WithLabelValues("error").Inc()
		log.WithError(err).Warn("Model call failed, drafting placeholders")
		return Complete(req.Candidates, nil, req.WantRewrite)
	}
	modelCalls.WithLabelValues("ok").Inc()

	selections := Parse(text, len(req.Candidates), req.WantRewrite)
	if len(selections) < MaxProposals && len(selections) < len(req.Candidates) {
		log.WithField("parsed", len(selections)).Warn("Incomplete model selection, backfilling")
	}
	return Complete(req.Candidates, selections, req.WantRewrite)
}

func (g *Generator) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := llm.Generate(ctx, g.provider, []llm.Message{{Role: "user", Content: prompt}})
	modelLatency.Observe(time.Since(start).Seconds())
	return text, err
}

// Complete turns parsed selections into the final proposal list: selections
// first, then placeholders for unselected candidates in original order,
// truncated to MaxProposals.
func Complete(candidates []models.CandidatePost, selections []Selection, wantRewrite bool) []Proposal {
	out := make([]Proposal, 0, MaxProposals)
	taken := make(map[int]bool, len(selections))
	for _, s := range selections {
		if s.Index < 1 || s.Index > len(candidates) || taken[s.Index] {
			continue
		}
		taken[s.Index] = true
		out = append(out, Proposal{
			Index:     s.Index,
			Candidate: candidates[s.Index-1],
			Reply:     s.Reply,
			Rewrite:   s.Rewrite,
		})
	}
	for i := range candidates {
		if len(out) >= MaxProposals {
			break
		}
		if taken[i+1] {
			continue
		}
		p := Proposal{Index: i + 1, Candidate: candidates[i], Reply: PlaceholderReply, Placeholder: true}
		if wantRewrite {
			p.Rewrite = PlaceholderRewrite
		}
		out = append(out, p)
		placeholders.Inc()
	}
	if len(out) > MaxProposals {
		out = out[:MaxProposals]
	}
	return out
}
