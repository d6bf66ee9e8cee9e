// Package persona builds a user's static persona from their own recent posts.
// The persona is the drafting context used until behavioral facts exist.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"draftdesk/internal/jobs"
	"draftdesk/internal/models"
	"draftdesk/internal/store"
	"draftdesk/pkg/llm"
	"draftdesk/pkg/logging"
)

// MaxPosts caps the posts fed to the model and remembered as facts.
const MaxPosts = 50

const (
	StatusSuccess         = "success"
	StatusNoHandle        = "no_handle"
	StatusProfileNotFound = "profile_not_found"
	StatusNoPosts         = "no_posts"
)

var ErrEmptyPersona = errors.New("model returned an empty persona")

type Store interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	UpdatePersona(ctx context.Context, id, persona string) error
}

type Source interface {
	Profile(ctx context.Context, handle string) (models.Profile, bool)
	UserPosts(ctx context.Context, externalID, handle string) []models.CandidatePost
}

type FactRecorder interface {
	Record(ctx context.Context, owner, text string)
}

// Result is stored as the build_persona job result.
type Result struct {
	UserID         string `json:"user_id"`
	Handle         string `json:"handle,omitempty"`
	Status         string `json:"status"`
	PostsProcessed int    `json:"posts_processed"`
	FactsStored    int    `json:"facts_stored"`
}

type Builder struct {
	store    Store
	sources  func() Source
	provider llm.Provider
	facts    FactRecorder
	timeout  time.Duration
	logger   logging.Logger
}

func NewBuilder(st Store, sources func() Source, provider llm.Provider, facts FactRecorder, timeout time.Duration, logger logging.Logger) *Builder {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Builder{
		store:    st,
		sources:  sources,
		provider: provider,
		facts:    facts,
		timeout:  timeout,
		logger:   logger,
	}
}

// Build resolves the user's handle, reads up to MaxPosts of their posts and
// asks the model for a persona. A missing profile or an empty timeline is a
// successful run that leaves the stored persona alone; a model failure is an
// error so the job is retried.
func (b *Builder) Build(ctx context.Context, userID string) (Result, error) {
	user, err := b.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return Result{}, jobs.Permanent(err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load user: %w", err)
	}

	handle := strings.TrimPrefix(strings.TrimSpace(user.Handle), "@")
	res := Result{UserID: userID, Handle: handle}
	log := b.logger.WithFields(logging.Fields{"user_id": userID, "handle": handle})
	if handle == "" {
		res.Status = StatusNoHandle
		log.Warn("User has no handle, skipping persona")
		return res, nil
	}

	src := b.sources()
	profile, ok := src.Profile(ctx, handle)
	if !ok || profile.ExternalID == "" {
		res.Status = StatusProfileNotFound
		log.Warn("Profile not found, skipping persona")
		return res, nil
	}

	var posts []string
	for _, p := range src.UserPosts(ctx, profile.ExternalID, handle) {
		if text := strings.TrimSpace(p.BodyText); text != "" {
			posts = append(posts, text)
		}
		if len(posts) == MaxPosts {
			break
		}
	}
	res.PostsProcessed = len(posts)
	if len(posts) == 0 {
		res.Status = StatusNoPosts
		log.Warn("No posts found, skipping persona")
		return res, nil
	}

	persona, err := b.generate(ctx, BuildPrompt(posts))
	if err != nil {
		personaBuilds.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("generate persona: %w", err)
	}
	if err := b.store.UpdatePersona(ctx, userID, persona); err != nil {
		return Result{}, err
	}
	personaBuilds.WithLabelValues("ok").Inc()

	b.facts.Record(ctx, userID, "User's initial persona based on their posting history: "+persona)
	res.FactsStored++
	for i, text := range posts {
		b.facts.Record(ctx, userID, fmt.Sprintf("User's historical tweet %d: %s", i+1, text))
		res.FactsStored++
	}

	res.Status = StatusSuccess
	log.WithField("posts", len(posts)).Info("Persona generated")
	return res, nil
}

func (b *Builder) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	text, err := llm.Generate(ctx, b.provider, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyPersona
	}
	return text, nil
}

func (b *Builder) HandleBuildPersona(ctx context.Context, job jobs.Job) (any, error) {
	return b.Build(ctx, job.OwnerUserID)
}
