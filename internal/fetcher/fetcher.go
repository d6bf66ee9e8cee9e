package fetcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"draftdesk/internal/models"
	"draftdesk/pkg/cache"
	"draftdesk/pkg/logging"
)

// API is the subset of Client a Session drives.
type API interface {
	SearchCandidates(ctx context.Context, query string) ([]models.CandidatePost, error)
	FetchProfile(ctx context.Context, handle string) (models.Profile, error)
	FetchUserPosts(ctx context.Context, externalID, handle string) ([]models.CandidatePost, error)
	FetchPostStats(ctx context.Context, postID string) (models.PostStats, error)
}

// Config ties the adapter, pool and profile cache settings together.
type Config struct {
	Pool            PoolConfig
	ProfileTTL      time.Duration
	ProfileMissTTL  time.Duration
	ProfileMaxCache int
}

func DefaultConfig() Config {
	return Config{
		Pool:            DefaultPoolConfig(),
		ProfileTTL:      6 * time.Hour,
		ProfileMissTTL:  10 * time.Minute,
		ProfileMaxCache: 10000,
	}
}

// Service hands out per-job Sessions. The profile cache outlives jobs.
type Service struct {
	api      API
	cfg      Config
	profiles *cache.Cache[models.Profile]
	logger   logging.Logger
}

func NewService(api API, cfg Config, logger logging.Logger) *Service {
	return &Service{
		api: api,
		cfg: cfg,
		profiles: cache.New[models.Profile](cache.Options{
			Name:        "profiles",
			TTL:         cfg.ProfileTTL,
			NegativeTTL: cfg.ProfileMissTTL,
			MaxEntries:  cfg.ProfileMaxCache,
		}),
		logger: logger,
	}
}

// Session opens a fresh pool for one job.
func (s *Service) Session() *Session {
	return &Session{
		api:      s.api,
		pool:     NewPool(s.cfg.Pool),
		profiles: s.profiles,
		logger:   s.logger,
	}
}

// Session is the best-effort fetcher of one job. Its methods never return
// errors: failures are logged and yield empty results.
type Session struct {
	api      API
	pool     *Pool
	profiles *cache.Cache[models.Profile]
	logger   logging.Logger
}

func (s *Session) Candidates(ctx context.Context, query string) []models.CandidatePost {
	var posts []models.CandidatePost
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		posts, err = s.api.SearchCandidates(ctx, query)
		return err
	})
	if err != nil {
		s.warn("search", err, logging.Fields{"query": query})
		return nil
	}
	fetchRequests.WithLabelValues("search", "ok").Inc()
	fetchCandidates.WithLabelValues("search").Add(float64(len(posts)))
	return posts
}

func (s *Session) UserPosts(ctx context.Context, externalID, handle string) []models.CandidatePost {
	var posts []models.CandidatePost
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		posts, err = s.api.FetchUserPosts(ctx, externalID, handle)
		return err
	})
	if err != nil {
		s.warn("user_posts", err, logging.Fields{"external_id": externalID, "handle": handle})
		return nil
	}
	fetchRequests.WithLabelValues("user_posts", "ok").Inc()
	fetchCandidates.WithLabelValues("user_posts").Add(float64(len(posts)))
	return posts
}

// Profile resolves handle through the shared cache. Unknown handles are
// cached as misses; transient failures are not.
func (s *Session) Profile(ctx context.Context, handle string) (models.Profile, bool) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
	if key == "" {
		return models.Profile{}, false
	}
	p, ok, err := s.profiles.Get(ctx, key, func(ctx context.Context, key string) (models.Profile, bool, error) {
		var p models.Profile
		err := s.pool.Do(ctx, func(ctx context.Context) error {
			var err error
			p, err = s.api.FetchProfile(ctx, key)
			return err
		})
		if errors.Is(err, ErrNotFound) {
			return models.Profile{}, false, nil
		}
		if err != nil {
			return models.Profile{}, false, err
		}
		return p, true, nil
	})
	if err != nil {
		s.warn("profile", err, logging.Fields{"handle": handle})
		return models.Profile{}, false
	}
	if !ok {
		fetchRequests.WithLabelValues("profile", "not_found").Inc()
		return models.Profile{}, false
	}
	fetchRequests.WithLabelValues("profile", "ok").Inc()
	return p, true
}

func (s *Session) PostStats(ctx context.Context, postID string) (models.PostStats, bool) {
	var st models.PostStats
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.api.FetchPostStats(ctx, postID)
		return err
	})
	if err != nil {
		s.warn("post_stats", err, logging.Fields{"post_id": postID})
		return models.PostStats{}, false
	}
	fetchRequests.WithLabelValues("post_stats", "ok").Inc()
	return st, true
}

func (s *Session) warn(op string, err error, fields logging.Fields) {
	outcome := "error"
	if errors.Is(err, ErrRateLimited) {
		outcome = "rate_limited"
	}
	fetchRequests.WithLabelValues(op, outcome).Inc()
	if s.logger == nil {
		return
	}
	fields["op"] = op
	s.logger.WithFields(fields).WithError(err).Warn("Fetch failed, returning empty result")
}
