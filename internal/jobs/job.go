// Package jobs queues, rate-limits, runs and retries the per-user scrape,
// fan-out, stats-ingestion and persona jobs.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	TypeScrapeUser    Type = "scrape_user"
	TypeScrapeKeyword Type = "scrape_keyword"
	TypeFanOut        Type = "fan_out"
	TypeIngestStats   Type = "ingest_stats"
	TypeBuildPersona  Type = "build_persona"
)

func (t Type) Valid() bool {
	switch t {
	case TypeScrapeUser, TypeScrapeKeyword, TypeFanOut, TypeIngestStats, TypeBuildPersona:
		return true
	}
	return false
}

type Status string

const (
	StatusQueued      Status = "QUEUED"
	StatusRunning     Status = "RUNNING"
	StatusRetryQueued Status = "RETRY_QUEUED"
	StatusSucceeded   Status = "SUCCEEDED"
	StatusFailed      Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerFanOut   Trigger = "fan_out"
)

// Job is the persisted record of one unit of work.
type Job struct {
	ID           string          `json:"id"`
	Type         Type            `json:"type"`
	OwnerUserID  string          `json:"owner_user_id,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	Status       Status          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	Trigger      Trigger         `json:"trigger"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ErrPermanent marks handler errors that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

// Permanent wraps err so the worker fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
