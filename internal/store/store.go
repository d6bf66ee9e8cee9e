// Package store persists users, drafted items and the posted-item tracker in
// Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"draftdesk/internal/models"
	"draftdesk/pkg/database"
)

var (
	// ErrNotPending is returned when a lane transition finds the row missing or
	// in another state.
	ErrNotPending   = errors.New("draft is not pending")
	ErrUserNotFound = errors.New("user not found")
)

// CredentialOpener decrypts sealed credential columns. secrets.Cipher
// implements it.
type CredentialOpener interface {
	Open(stored string) (string, error)
}

// Store is the Postgres-backed persistence layer.
type Store struct {
	db    *sql.DB
	creds CredentialOpener
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithCredentialOpener makes GetUser decrypt sealed OAuth columns.
func (s *Store) WithCredentialOpener(o CredentialOpener) *Store {
	s.creds = o
	return s
}

func (s *Store) DB() *sql.DB {
	return s.db
}

const draftColumns = `owner_user_id, source_id, kind, origin_query, body_text, author_handle,
	author_avatar_url, posted_at, drafted_reply, reply_state, posted_reply_id,
	drafted_rewrite, rewrite_state, posted_rewrite_id, created_at, updated_at`

// UpsertDraft inserts item or refreshes the existing row with the same
// (owner_user_id, source_id). Rows whose reply lane already left PENDING are
// left untouched, and a decided rewrite lane is never reopened.
func (s *Store) UpsertDraft(ctx context.Context, item models.DraftedItem) error {
	rewriteState := ""
	if item.DraftedRewrite != "" {
		rewriteState = string(models.StatePending)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafted_items (
			owner_user_id, source_id, kind, origin_query, body_text, author_handle,
			author_avatar_url, posted_at, drafted_reply, reply_state, drafted_rewrite, rewrite_state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'PENDING', $10, $11)
		ON CONFLICT (owner_user_id, source_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			origin_query = EXCLUDED.origin_query,
			body_text = EXCLUDED.body_text,
			author_handle = EXCLUDED.author_handle,
			author_avatar_url = EXCLUDED.author_avatar_url,
			posted_at = EXCLUDED.posted_at,
			drafted_reply = EXCLUDED.drafted_reply,
			drafted_rewrite = CASE WHEN drafted_items.rewrite_state IN ('POSTING', 'POSTED', 'CANCELLED')
				THEN drafted_items.drafted_rewrite ELSE EXCLUDED.drafted_rewrite END,
			rewrite_state = CASE WHEN drafted_items.rewrite_state IN ('POSTING', 'POSTED', 'CANCELLED')
				THEN drafted_items.rewrite_state ELSE EXCLUDED.rewrite_state END,
			updated_at = NOW()
		WHERE drafted_items.reply_state = 'PENDING'`,
		item.OwnerUserID, item.SourceID, string(item.Kind), item.OriginQuery, item.BodyText,
		item.AuthorHandle, item.AuthorAvatarURL, item.PostedAt, item.DraftedReply,
		item.DraftedRewrite, rewriteState)
	if err != nil {
		return fmt.Errorf("upsert draft %s: %w", item.SourceID, err)
	}
	return nil
}

type laneCols struct {
	state, text, postedID string
}

func laneColumns(lane models.Lane) (laneCols, error) {
	switch lane {
	case models.LaneReply, "":
		return laneCols{state: "reply_state", text: "drafted_reply", postedID: "posted_reply_id"}, nil
	case models.LaneRewrite:
		return laneCols{state: "rewrite_state", text: "drafted_rewrite", postedID: "posted_rewrite_id"}, nil
	default:
		return laneCols{}, fmt.Errorf("unknown lane %q", lane)
	}
}

// ListPending returns the owner's drafts whose lane is PENDING, newest first.
func (s *Store) ListPending(ctx context.Context, owner string, lane models.Lane) ([]models.DraftedItem, error) {
	cols, err := laneColumns(lane)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+draftColumns+`
		FROM drafted_items
		WHERE owner_user_id = $1 AND `+cols.state+` = 'PENDING'
		ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list pending drafts: %w", err)
	}
	defer rows.Close()

	var items []models.DraftedItem
	for rows.Next() {
		item, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return items, nil
}

// GetDraft loads one draft. A missing row is reported as ErrNotPending.
func (s *Store) GetDraft(ctx context.Context, owner, sourceID string) (models.DraftedItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+`
		FROM drafted_items
		WHERE owner_user_id = $1 AND source_id = $2`, owner, sourceID)
	item, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DraftedItem{}, ErrNotPending
	}
	return item, err
}

// ClaimLane moves lane from PENDING to POSTING. Exactly one concurrent caller
// wins; the rest get ErrNotPending.
func (s *Store) ClaimLane(ctx context.Context, owner, sourceID string, lane models.Lane) error {
	cols, err := laneColumns(lane)
	if err != nil {
		return err
	}
	return s.transition(ctx, `UPDATE drafted_items
		SET `+cols.state+` = 'POSTING', updated_at = NOW()
		WHERE owner_user_id = $1 AND source_id = $2 AND `+cols.state+` = 'PENDING'`,
		owner, sourceID)
}

// ReleaseLane hands a claimed lane back to PENDING after a failed post.
func (s *Store) ReleaseLane(ctx context.Context, owner, sourceID string, lane models.Lane) error {
	cols, err := laneColumns(lane)
	if err != nil {
		return err
	}
	return s.transition(ctx, `UPDATE drafted_items
		SET `+cols.state+` = 'PENDING', updated_at = NOW()
		WHERE owner_user_id = $1 AND source_id = $2 AND `+cols.state+` = 'POSTING'`,
		owner, sourceID)
}

// MarkPosted moves a claimed lane from POSTING to POSTED and keeps the text
// that was actually published.
func (s *Store) MarkPosted(ctx context.Context, owner, sourceID string, lane models.Lane, finalText, postedID string) error {
	cols, err := laneColumns(lane)
	if err != nil {
		return err
	}
	return s.transition(ctx, `UPDATE drafted_items
		SET `+cols.state+` = 'POSTED', `+cols.postedID+` = $3, `+cols.text+` = $4, updated_at = NOW()
		WHERE owner_user_id = $1 AND source_id = $2 AND `+cols.state+` = 'POSTING'`,
		owner, sourceID, postedID, finalText)
}

// MarkCancelled moves lane from PENDING to CANCELLED.
func (s *Store) MarkCancelled(ctx context.Context, owner, sourceID string, lane models.Lane) error {
	cols, err := laneColumns(lane)
	if err != nil {
		return err
	}
	return s.transition(ctx, `UPDATE drafted_items
		SET `+cols.state+` = 'CANCELLED', updated_at = NOW()
		WHERE owner_user_id = $1 AND source_id = $2 AND `+cols.state+` = 'PENDING'`,
		owner, sourceID)
}

func (s *Store) transition(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update draft state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update draft state: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (models.DraftedItem, error) {
	var (
		item                 models.DraftedItem
		kind, reply, rewrite string
	)
	err := row.Scan(&item.OwnerUserID, &item.SourceID, &kind, &item.OriginQuery, &item.BodyText,
		&item.AuthorHandle, &item.AuthorAvatarURL, &item.PostedAt, &item.DraftedReply, &reply,
		&item.PostedReplyID, &item.DraftedRewrite, &rewrite, &item.PostedRewriteID,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DraftedItem{}, err
		}
		return models.DraftedItem{}, fmt.Errorf("scan draft: %w", err)
	}
	item.Kind = models.DraftKind(kind)
	item.ReplyState = models.DraftState(reply)
	item.RewriteState = models.DraftState(rewrite)
	return item, nil
}

// ListUserIDs returns every user id in stable order.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	var keywords []string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, persona, search_keywords, handle,
		       client_id, client_secret, access_token, access_token_secret
		FROM users WHERE id = $1`, id).Scan(
		&u.ID, &u.Name, &u.Persona, pq.Array(&keywords), &u.Handle,
		&u.Credentials.ClientID, &u.Credentials.ClientSecret,
		&u.Credentials.AccessToken, &u.Credentials.AccessTokenSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			u.SearchKeywords = append(u.SearchKeywords, k)
		}
	}
	if s.creds != nil {
		for _, f := range []*string{
			&u.Credentials.ClientID, &u.Credentials.ClientSecret,
			&u.Credentials.AccessToken, &u.Credentials.AccessTokenSecret,
		} {
			if *f, err = s.creds.Open(*f); err != nil {
				return models.User{}, fmt.Errorf("open credentials of user %s: %w", id, err)
			}
		}
	}
	return u, nil
}

func (s *Store) ListTrackedAccounts(ctx context.Context, owner string) ([]models.TrackedAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_user_id, handle, external_id, followers, bio, avatar_url
		FROM tracked_accounts
		WHERE owner_user_id = $1
		ORDER BY created_at, handle`, owner)
	if err != nil {
		return nil, fmt.Errorf("list tracked accounts: %w", err)
	}
	defer rows.Close()

	var out []models.TrackedAccount
	for rows.Next() {
		var a models.TrackedAccount
		if err := rows.Scan(&a.OwnerUserID, &a.Handle, &a.ExternalID, &a.Followers, &a.Bio, &a.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan tracked account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdatePersona replaces the user's static persona.
func (s *Store) UpdatePersona(ctx context.Context, id, persona string) error {
	return s.updateUser(ctx, `UPDATE users SET persona = $2 WHERE id = $1`, id, persona)
}

// UpdateKeywords replaces the user's search keywords.
func (s *Store) UpdateKeywords(ctx context.Context, id string, keywords []string) error {
	if keywords == nil {
		keywords = []string{}
	}
	return s.updateUser(ctx, `UPDATE users SET search_keywords = $2 WHERE id = $1`, id, pq.Array(keywords))
}

// UpdateCredentials stores the user's handle and OAuth columns as given.
// Callers seal the secrets first.
func (s *Store) UpdateCredentials(ctx context.Context, id, handle string, c models.Credentials) error {
	return s.updateUser(ctx, `
		UPDATE users
		SET handle = $2, client_id = $3, client_secret = $4, access_token = $5, access_token_secret = $6
		WHERE id = $1`,
		id, handle, c.ClientID, c.ClientSecret, c.AccessToken, c.AccessTokenSecret)
}

func (s *Store) updateUser(ctx context.Context, query, id string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ReplaceTrackedAccounts makes handles the owner's full tracked set. Handles
// already tracked keep their resolved profile.
func (s *Store) ReplaceTrackedAccounts(ctx context.Context, owner string, handles []string) error {
	if handles == nil {
		handles = []string{}
	}
	return database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, owner).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("lock user %s: %w", owner, err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM tracked_accounts
			WHERE owner_user_id = $1 AND NOT (handle = ANY($2))`, owner, pq.Array(handles)); err != nil {
			return fmt.Errorf("prune tracked accounts: %w", err)
		}
		for _, h := range handles {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tracked_accounts (owner_user_id, handle)
				VALUES ($1, $2)
				ON CONFLICT (owner_user_id, handle) DO NOTHING`, owner, h); err != nil {
				return fmt.Errorf("insert tracked account %s: %w", h, err)
			}
		}
		return nil
	})
}

// UpdateTrackedAccountProfile writes back a resolved profile.
func (s *Store) UpdateTrackedAccountProfile(ctx context.Context, owner, handle string, p models.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tracked_accounts
		SET external_id = $3, followers = $4, bio = $5, avatar_url = $6
		WHERE owner_user_id = $1 AND handle = $2`,
		owner, handle, p.ExternalID, p.Followers, p.Bio, p.AvatarURL)
	if err != nil {
		return fmt.Errorf("update tracked account %s: %w", handle, err)
	}
	return nil
}

// RecordPosted adds rec to the posted-item tracker. Re-recording the same
// external id is a no-op.
func (s *Store) RecordPosted(ctx context.Context, rec models.PostedRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posted_items (
			owner_user_id, external_id, post_type, source_kind, text, original_text, source_context, posted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_user_id, external_id) DO NOTHING`,
		rec.OwnerUserID, rec.ExternalID, string(rec.PostType), string(rec.SourceKind),
		rec.Text, rec.OriginalText, rec.SourceContext, rec.PostedAt)
	if err != nil {
		return fmt.Errorf("record posted %s: %w", rec.ExternalID, err)
	}
	return nil
}

// ListRecentPosted returns the owner's latest posted items, newest first.
func (s *Store) ListRecentPosted(ctx context.Context, owner string, limit int) ([]models.PostedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_user_id, external_id, post_type, source_kind, text, original_text, source_context, posted_at
		FROM posted_items
		WHERE owner_user_id = $1
		ORDER BY posted_at DESC
		LIMIT $2`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list posted items: %w", err)
	}
	defer rows.Close()

	var out []models.PostedRecord
	for rows.Next() {
		var (
			r              models.PostedRecord
			postType, kind string
		)
		if err := rows.Scan(&r.OwnerUserID, &r.ExternalID, &postType, &kind, &r.Text,
			&r.OriginalText, &r.SourceContext, &r.PostedAt); err != nil {
			return nil, fmt.Errorf("scan posted item: %w", err)
		}
		r.PostType = models.PostType(postType)
		r.SourceKind = models.DraftKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}
