// Package approval applies a user's confirm, edit and cancel decisions to
// drafted items.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"draftdesk/internal/events"
	"draftdesk/internal/models"
	"draftdesk/internal/store"
	"draftdesk/pkg/logging"
)

type Action string

const (
	ActionConfirm Action = "confirm"
	ActionEdit    Action = "edit"
	ActionCancel  Action = "cancel"
)

var (
	ErrNotPending       = store.ErrNotPending
	ErrDraftMissing     = errors.New("draft text missing, cannot confirm")
	ErrEditTextRequired = errors.New("text is required for edit")
	ErrUnknownAction    = errors.New("action must be confirm, cancel or edit")
	ErrPostFailed       = errors.New("posting failed")
)

// MissingCredentialsError lists the OAuth fields a user has not configured.
type MissingCredentialsError struct {
	Fields []string
}

func (e *MissingCredentialsError) Error() string {
	return "missing posting credentials: " + strings.Join(e.Fields, ", ")
}

// ErrMissingCredentials matches any *MissingCredentialsError.
var ErrMissingCredentials = errors.New("missing posting credentials")

func (e *MissingCredentialsError) Is(target error) bool {
	return target == ErrMissingCredentials
}

// Store is the persistence the service needs.
type Store interface {
	ListPending(ctx context.Context, owner string, lane models.Lane) ([]models.DraftedItem, error)
	GetDraft(ctx context.Context, owner, sourceID string) (models.DraftedItem, error)
	ClaimLane(ctx context.Context, owner, sourceID string, lane models.Lane) error
	ReleaseLane(ctx context.Context, owner, sourceID string, lane models.Lane) error
	MarkPosted(ctx context.Context, owner, sourceID string, lane models.Lane, finalText, postedID string) error
	MarkCancelled(ctx context.Context, owner, sourceID string, lane models.Lane) error
	GetUser(ctx context.Context, id string) (models.User, error)
	RecordPosted(ctx context.Context, rec models.PostedRecord) error
}

type Poster interface {
	Post(ctx context.Context, creds models.Credentials, text, inReplyTo string) (string, error)
}

type FactRecorder interface {
	Record(ctx context.Context, owner, text string)
}

type DecisionPublisher interface {
	PublishDecision(ctx context.Context, d events.Decision)
}

// Result reports the outcome of an applied action.
type Result struct {
	SourceID string            `json:"source_id"`
	Lane     models.Lane       `json:"lane"`
	State    models.DraftState `json:"state"`
	PostedID string            `json:"posted_id,omitempty"`
	Text     string            `json:"text,omitempty"`
}

type Service struct {
	store     Store
	poster    Poster
	facts     FactRecorder
	publisher DecisionPublisher
	logger    logging.Logger
	now       func() time.Time
}

func NewService(st Store, poster Poster, facts FactRecorder, publisher DecisionPublisher, logger logging.Logger) *Service {
	return &Service{
		store:     st,
		poster:    poster,
		facts:     facts,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ListPending returns the owner's drafts awaiting a decision on lane.
func (s *Service) ListPending(ctx context.Context, owner string, lane models.Lane) ([]models.DraftedItem, error) {
	if lane == "" {
		lane = models.LaneReply
	}
	if lane != models.LaneReply && lane != models.LaneRewrite {
		return nil, fmt.Errorf("unknown lane %q", lane)
	}
	return s.store.ListPending(ctx, owner, lane)
}

// ApplyAction moves one lane of a draft out of PENDING. Confirm and edit claim
// the lane (POSTING) before publishing, so concurrent decisions post at most
// once, and mark it POSTED afterwards. A failed post releases the claim.
// Cancel marks the lane CANCELLED. Each decision appends one behavioral fact.
func (s *Service) ApplyAction(ctx context.Context, owner, sourceID string, lane models.Lane, action Action, text string) (Result, error) {
	if lane == "" {
		lane = models.LaneReply
	}
	action = Action(strings.ToLower(strings.TrimSpace(string(action))))

	item, err := s.store.GetDraft(ctx, owner, sourceID)
	if err != nil {
		return Result{}, err
	}
	state, drafted := item.LaneState(lane)
	if state != models.StatePending {
		return Result{}, ErrNotPending
	}

	log := s.logger.WithFields(logging.Fields{
		"user_id":   owner,
		"source_id": sourceID,
		"lane":      lane,
		"action":    action,
	})

	var final string
	switch action {
	case ActionCancel:
		if err := s.store.MarkCancelled(ctx, owner, sourceID, lane); err != nil {
			return Result{}, err
		}
		s.facts.Record(ctx, owner, decisionFact(item, lane, action, drafted, ""))
		s.publish(ctx, item, lane, action, models.StateCancelled, "")
		decisions.WithLabelValues(string(lane), string(action)).Inc()
		log.Info("Draft cancelled")
		return Result{SourceID: sourceID, Lane: lane, State: models.StateCancelled}, nil
	case ActionConfirm:
		final = strings.TrimSpace(drafted)
		if final == "" {
			return Result{}, ErrDraftMissing
		}
	case ActionEdit:
		final = strings.TrimSpace(text)
		if final == "" {
			return Result{}, ErrEditTextRequired
		}
	default:
		return Result{}, ErrUnknownAction
	}

	user, err := s.store.GetUser(ctx, owner)
	if err != nil {
		return Result{}, fmt.Errorf("load user: %w", err)
	}
	if missing := user.Credentials.Missing(); len(missing) > 0 {
		return Result{}, &MissingCredentialsError{Fields: missing}
	}

	if err := s.store.ClaimLane(ctx, owner, sourceID, lane); err != nil {
		return Result{}, err
	}

	inReplyTo := ""
	if lane == models.LaneReply {
		inReplyTo = sourceID
	}
	postedID, err := s.poster.Post(ctx, user.Credentials, final, inReplyTo)
	if err != nil {
		postFailures.Inc()
		log.WithError(err).Warn("Posting failed")
		if relErr := s.store.ReleaseLane(context.WithoutCancel(ctx), owner, sourceID, lane); relErr != nil {
			log.WithError(relErr).Error("Failed to release claimed draft")
		}
		return Result{}, fmt.Errorf("%w: %v", ErrPostFailed, err)
	}

	if err := s.store.MarkPosted(context.WithoutCancel(ctx), owner, sourceID, lane, final, postedID); err != nil {
		// The post is live but the lane stays POSTING until repaired.
		log.WithError(err).WithField("posted_id", postedID).Error("Posted but failed to mark draft")
		return Result{}, fmt.Errorf("mark posted: %w", err)
	}

	rec := models.PostedRecord{
		OwnerUserID:   owner,
		ExternalID:    postedID,
		PostType:      models.PostTypeReply,
		SourceKind:    item.Kind,
		Text:          final,
		OriginalText:  item.BodyText,
		SourceContext: "@" + item.AuthorHandle,
		PostedAt:      s.now().UTC(),
	}
	if lane == models.LaneRewrite {
		rec.PostType = models.PostTypeRewrite
		rec.SourceContext = item.OriginQuery
	}
	if err := s.store.RecordPosted(ctx, rec); err != nil {
		log.WithError(err).Warn("Failed to record posted item")
	}

	s.facts.Record(ctx, owner, decisionFact(item, lane, action, drafted, final))
	s.publish(ctx, item, lane, action, models.StatePosted, postedID)
	decisions.WithLabelValues(string(lane), string(action)).Inc()
	log.WithField("posted_id", postedID).Info("Draft posted")

	return Result{SourceID: sourceID, Lane: lane, State: models.StatePosted, PostedID: postedID, Text: final}, nil
}

func (s *Service) publish(ctx context.Context, item models.DraftedItem, lane models.Lane, action Action, state models.DraftState, postedID string) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishDecision(ctx, events.Decision{
		OwnerUserID: item.OwnerUserID,
		SourceID:    item.SourceID,
		Lane:        lane,
		Action:      string(action),
		State:       state,
		PostedID:    postedID,
		Kind:        item.Kind,
		OriginQuery: item.OriginQuery,
	})
}
