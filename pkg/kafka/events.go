package kafka

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for everything draftdesk emits to Kafka.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	OwnerUserID string         `json:"owner_user_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewEvent stamps a fresh id and the current UTC time.
func NewEvent(eventType, source, owner string, data map[string]any) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Source:      source,
		OwnerUserID: owner,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
}
