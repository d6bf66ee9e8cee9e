// Package settings owns the per-user configuration that drives scraping and
// posting: search keywords, tracked accounts and posting credentials.
package settings

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"draftdesk/internal/approval"
	"draftdesk/internal/jobs"
	"draftdesk/internal/models"
	"draftdesk/internal/poster"
	"draftdesk/pkg/logging"
)

const (
	MaxKeywords        = 25
	MaxKeywordLength   = 100
	MaxTrackedAccounts = 100
)

const (
	AccountResolved = "resolved"
	AccountNotFound = "not_found"
	AccountFailed   = "failed"
)

var ErrInvalidInput = errors.New("invalid settings")

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

type Store interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	ListTrackedAccounts(ctx context.Context, owner string) ([]models.TrackedAccount, error)
	UpdateKeywords(ctx context.Context, id string, keywords []string) error
	ReplaceTrackedAccounts(ctx context.Context, owner string, handles []string) error
	UpdateTrackedAccountProfile(ctx context.Context, owner, handle string, p models.Profile) error
	UpdateCredentials(ctx context.Context, id, handle string, c models.Credentials) error
}

type ProfileSource interface {
	Profile(ctx context.Context, handle string) (models.Profile, bool)
}

// Sealer encrypts a credential before it is stored. secrets.Cipher
// implements it.
type Sealer interface {
	Seal(value string) (string, error)
}

type Verifier interface {
	VerifyCredentials(ctx context.Context, creds models.Credentials) (poster.Identity, error)
}

type PersonaQueue interface {
	EnqueuePersona(ctx context.Context, userID string, trigger jobs.Trigger) (jobs.Job, error)
}

type Settings struct {
	Handle                string                  `json:"handle"`
	Keywords              []string                `json:"search_keywords"`
	TrackedAccounts       []models.TrackedAccount `json:"tracked_accounts"`
	Persona               string                  `json:"persona"`
	CredentialsConfigured bool                    `json:"credentials_configured"`
}

type AccountResult struct {
	Handle     string `json:"handle"`
	Status     string `json:"status"`
	ExternalID string `json:"external_id,omitempty"`
	Followers  int64  `json:"followers"`
}

type TrackedUpdate struct {
	Accounts []AccountResult `json:"accounts"`
	Resolved int             `json:"resolved"`
}

type CredentialsUpdate struct {
	Handle        string `json:"handle"`
	PersonaJobID  string `json:"persona_job_id,omitempty"`
	PersonaQueued bool   `json:"persona_queued"`
}

type Config struct {
	// ResolveConcurrency bounds parallel profile lookups.
	ResolveConcurrency int
}

type Service struct {
	store    Store
	sources  func() ProfileSource
	sealer   Sealer
	verifier Verifier
	queue    PersonaQueue
	cfg      Config
	logger   logging.Logger
}

// NewService wires the settings service. A nil sealer stores credentials in
// plaintext.
func NewService(st Store, sources func() ProfileSource, sealer Sealer, verifier Verifier, queue PersonaQueue, cfg Config, logger logging.Logger) *Service {
	if cfg.ResolveConcurrency <= 0 {
		cfg.ResolveConcurrency = 2
	}
	return &Service{
		store:    st,
		sources:  sources,
		sealer:   sealer,
		verifier: verifier,
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *Service) Get(ctx context.Context, owner string) (Settings, error) {
	user, err := s.store.GetUser(ctx, owner)
	if err != nil {
		return Settings{}, err
	}
	accounts, err := s.store.ListTrackedAccounts(ctx, owner)
	if err != nil {
		return Settings{}, err
	}
	if accounts == nil {
		accounts = []models.TrackedAccount{}
	}
	keywords := user.SearchKeywords
	if keywords == nil {
		keywords = []string{}
	}
	return Settings{
		Handle:                user.Handle,
		Keywords:              keywords,
		TrackedAccounts:       accounts,
		Persona:               user.Persona,
		CredentialsConfigured: len(user.Credentials.Missing()) == 0,
	}, nil
}

// UpdateKeywords replaces the owner's search keywords with the trimmed,
// case-insensitively deduplicated list.
func (s *Service) UpdateKeywords(ctx context.Context, owner string, keywords []string) ([]string, error) {
	clean := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		k = strings.Join(strings.Fields(k), " ")
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		if len(k) > MaxKeywordLength {
			return nil, fmt.Errorf("%w: keyword longer than %d characters", ErrInvalidInput, MaxKeywordLength)
		}
		seen[strings.ToLower(k)] = true
		clean = append(clean, k)
	}
	if len(clean) > MaxKeywords {
		return nil, fmt.Errorf("%w: at most %d keywords", ErrInvalidInput, MaxKeywords)
	}
	if err := s.store.UpdateKeywords(ctx, owner, clean); err != nil {
		return nil, err
	}
	s.logger.WithFields(logging.Fields{"user_id": owner, "keywords": len(clean)}).Info("Updated search keywords")
	return clean, nil
}

// NormalizeHandles strips "@", validates and deduplicates handles, keeping
// the first spelling of each.
func NormalizeHandles(handles []string) ([]string, error) {
	out := make([]string, 0, len(handles))
	seen := make(map[string]bool, len(handles))
	for _, h := range handles {
		h = strings.TrimPrefix(strings.TrimSpace(h), "@")
		if h == "" {
			continue
		}
		if !handlePattern.MatchString(h) {
			return nil, fmt.Errorf("%w: bad handle %q", ErrInvalidInput, h)
		}
		if seen[strings.ToLower(h)] {
			continue
		}
		seen[strings.ToLower(h)] = true
		out = append(out, h)
	}
	if len(out) > MaxTrackedAccounts {
		return nil, fmt.Errorf("%w: at most %d tracked accounts", ErrInvalidInput, MaxTrackedAccounts)
	}
	return out, nil
}

type resolveTask struct {
	slot   int
	handle string
}

// UpdateTrackedAccounts replaces the owner's tracked set, then resolves each
// handle's profile and writes it back. Lookup failures are reported per
// account and do not undo the update.
func (s *Service) UpdateTrackedAccounts(ctx context.Context, owner string, handles []string) (TrackedUpdate, error) {
	clean, err := NormalizeHandles(handles)
	if err != nil {
		return TrackedUpdate{}, err
	}
	if err := s.store.ReplaceTrackedAccounts(ctx, owner, clean); err != nil {
		return TrackedUpdate{}, err
	}

	res := TrackedUpdate{Accounts: make([]AccountResult, len(clean))}
	tasks := make([]resolveTask, len(clean))
	for i, h := range clean {
		tasks[i] = resolveTask{slot: i, handle: h}
	}

	src := s.sources()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ResolveConcurrency)
	for _, t := range tasks {
		g.Go(func() error {
			res.Accounts[t.slot] = s.resolve(gctx, src, owner, t.handle)
			return nil
		})
	}
	_ = g.Wait()

	for _, a := range res.Accounts {
		if a.Status == AccountResolved {
			res.Resolved++
		}
	}
	s.logger.WithFields(logging.Fields{
		"user_id":  owner,
		"accounts": len(clean),
		"resolved": res.Resolved,
	}).Info("Updated tracked accounts")
	return res, nil
}

func (s *Service) resolve(ctx context.Context, src ProfileSource, owner, handle string) AccountResult {
	out := AccountResult{Handle: handle, Status: AccountNotFound}
	p, ok := src.Profile(ctx, handle)
	if !ok || p.ExternalID == "" {
		return out
	}
	if err := s.store.UpdateTrackedAccountProfile(ctx, owner, handle, p); err != nil {
		s.logger.WithError(err).WithField("handle", handle).Warn("Failed to store tracked account profile")
		out.Status = AccountFailed
		return out
	}
	out.Status = AccountResolved
	out.ExternalID = p.ExternalID
	out.Followers = p.Followers
	return out
}

// UpdateCredentials stores the owner's handle and sealed OAuth credentials
// and queues a persona build from their posts. A failed enqueue is logged;
// the credentials stay saved.
func (s *Service) UpdateCredentials(ctx context.Context, owner, handle string, creds models.Credentials) (CredentialsUpdate, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	creds = models.Credentials{
		ClientID:          strings.TrimSpace(creds.ClientID),
		ClientSecret:      strings.TrimSpace(creds.ClientSecret),
		AccessToken:       strings.TrimSpace(creds.AccessToken),
		AccessTokenSecret: strings.TrimSpace(creds.AccessTokenSecret),
	}
	missing := creds.Missing()
	if handle == "" {
		missing = append([]string{"handle"}, missing...)
	}
	if len(missing) > 0 {
		return CredentialsUpdate{}, &approval.MissingCredentialsError{Fields: missing}
	}
	if !handlePattern.MatchString(handle) {
		return CredentialsUpdate{}, fmt.Errorf("%w: bad handle %q", ErrInvalidInput, handle)
	}

	stored, err := s.seal(creds)
	if err != nil {
		return CredentialsUpdate{}, err
	}
	if err := s.store.UpdateCredentials(ctx, owner, handle, stored); err != nil {
		return CredentialsUpdate{}, err
	}

	out := CredentialsUpdate{Handle: handle}
	log := s.logger.WithFields(logging.Fields{"user_id": owner, "handle": handle})
	job, err := s.queue.EnqueuePersona(ctx, owner, jobs.TriggerManual)
	if err != nil {
		log.WithError(err).Warn("Credentials saved but persona build not queued")
		return out, nil
	}
	out.PersonaJobID = job.ID
	out.PersonaQueued = true
	log.WithField("job_id", job.ID).Info("Updated credentials")
	return out, nil
}

func (s *Service) seal(c models.Credentials) (models.Credentials, error) {
	if s.sealer == nil {
		return c, nil
	}
	for _, f := range []*string{&c.ClientID, &c.ClientSecret, &c.AccessToken, &c.AccessTokenSecret} {
		sealed, err := s.sealer.Seal(*f)
		if err != nil {
			return models.Credentials{}, fmt.Errorf("seal credentials: %w", err)
		}
		*f = sealed
	}
	return c, nil
}

// VerifyCredentials checks the owner's stored credentials against the API.
func (s *Service) VerifyCredentials(ctx context.Context, owner string) (poster.Identity, error) {
	user, err := s.store.GetUser(ctx, owner)
	if err != nil {
		return poster.Identity{}, err
	}
	if missing := user.Credentials.Missing(); len(missing) > 0 {
		return poster.Identity{}, &approval.MissingCredentialsError{Fields: missing}
	}
	return s.verifier.VerifyCredentials(ctx, user.Credentials)
}
