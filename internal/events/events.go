// Package events emits approval decisions and job outcomes to Kafka for
// downstream analytics.
package events

import (
	"context"

	"draftdesk/internal/models"
	"draftdesk/pkg/kafka"
	"draftdesk/pkg/logging"
)

const (
	DefaultTopic = "draftdesk.events"

	TypeDraftDecided = "draft.decided"
	TypeJobFinished  = "job.finished"
)

// Decision describes one terminal approval transition.
type Decision struct {
	OwnerUserID string
	SourceID    string
	Lane        models.Lane
	Action      string
	State       models.DraftState
	PostedID    string
	Kind        models.DraftKind
	OriginQuery string
}

// JobOutcome describes a job that reached SUCCEEDED or FAILED.
type JobOutcome struct {
	JobID       string
	Type        string
	OwnerUserID string
	Status      string
	Attempts    int
	Error       string
}

// Sink is the write side of pkg/kafka.Producer.
type Sink interface {
	PublishEvent(ctx context.Context, topic string, event kafka.Event) error
}

// Publisher sends events best-effort. Failures are logged and dropped so a
// broker outage never blocks approvals or jobs. A nil Sink disables it.
type Publisher struct {
	sink   Sink
	topic  string
	source string
	logger logging.Logger
}

func NewPublisher(sink Sink, topic, source string, logger logging.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{sink: sink, topic: topic, source: source, logger: logger}
}

func (p *Publisher) PublishDecision(ctx context.Context, d Decision) {
	if !p.enabled() {
		return
	}
	data := map[string]any{
		"source_id":    d.SourceID,
		"lane":         string(d.Lane),
		"action":       d.Action,
		"state":        string(d.State),
		"kind":         string(d.Kind),
		"origin_query": d.OriginQuery,
	}
	if d.PostedID != "" {
		data["posted_id"] = d.PostedID
	}
	p.publish(ctx, kafka.NewEvent(TypeDraftDecided, p.source, d.OwnerUserID, data))
}

func (p *Publisher) PublishJobOutcome(ctx context.Context, o JobOutcome) {
	if !p.enabled() {
		return
	}
	data := map[string]any{
		"job_id":   o.JobID,
		"job_type": o.Type,
		"status":   o.Status,
		"attempts": o.Attempts,
	}
	if o.Error != "" {
		data["error"] = o.Error
	}
	p.publish(ctx, kafka.NewEvent(TypeJobFinished, p.source, o.OwnerUserID, data))
}

func (p *Publisher) enabled() bool {
	return p != nil && p.sink != nil
}

func (p *Publisher) publish(ctx context.Context, e kafka.Event) {
	if err := p.sink.PublishEvent(ctx, p.topic, e); err != nil && p.logger != nil {
		p.logger.WithError(err).WithFields(logging.Fields{
			"event_type": e.Type,
			"topic":      p.topic,
		}).Warn("Failed to publish event")
	}
}
