// Package memory keeps the behavioral facts learned from a user's approval
// decisions and turns them into drafting context.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"draftdesk/internal/models"
)

// Store is a behavioral memory backend.
type Store interface {
	// GetAll returns up to limit facts in the backend's own order.
	GetAll(ctx context.Context, owner string, limit int) ([]models.BehavioralFact, error)
	Add(ctx context.Context, owner, text string) error
}

// SQLStore keeps facts in the behavioral_facts table.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) GetAll(ctx context.Context, owner string, limit int) ([]models.BehavioralFact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_user_id, text, recorded_at
		FROM behavioral_facts
		WHERE owner_user_id = $1
		ORDER BY id
		LIMIT $2`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("query behavioral facts: %w", err)
	}
	defer rows.Close()

	var facts []models.BehavioralFact
	for rows.Next() {
		var f models.BehavioralFact
		if err := rows.Scan(&f.OwnerUserID, &f.Text, &f.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan behavioral fact: %w", err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate behavioral facts: %w", err)
	}
	return facts, nil
}

func (s *SQLStore) Add(ctx context.Context, owner, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO behavioral_facts (owner_user_id, text, recorded_at) VALUES ($1, $2, $3)`,
		owner, text, s.now().UTC())
	if err != nil {
		return fmt.Errorf("insert behavioral fact: %w", err)
	}
	return nil
}
