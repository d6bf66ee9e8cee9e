// Package pipeline runs the per-user drafting jobs: fetch candidates, drop
// promotional posts, assemble context, draft and store the proposals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"draftdesk/internal/drafting"
	"draftdesk/internal/jobs"
	"draftdesk/internal/memory"
	"draftdesk/internal/models"
	"draftdesk/internal/store"
	"draftdesk/pkg/logging"
)

// Query result statuses.
const (
	StatusNoCandidates = "no_candidates"
	StatusSuccess      = "success"
)

// DefaultConcurrency matches the fetch pool size so a job never queues more
// tasks than it can fetch for.
const DefaultConcurrency = 2

type Store interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	ListTrackedAccounts(ctx context.Context, owner string) ([]models.TrackedAccount, error)
	UpdateTrackedAccountProfile(ctx context.Context, owner, handle string, p models.Profile) error
	UpsertDraft(ctx context.Context, item models.DraftedItem) error
}

// Source is the best-effort fetcher of one job. fetcher.Session implements it.
type Source interface {
	Candidates(ctx context.Context, query string) []models.CandidatePost
	UserPosts(ctx context.Context, externalID, handle string) []models.CandidatePost
	Profile(ctx context.Context, handle string) (models.Profile, bool)
}

type Filter interface {
	Apply(posts []models.CandidatePost) []models.CandidatePost
}

type Assembler interface {
	Assemble(ctx context.Context, owner, persona string) memory.AssembledContext
}

type Drafter interface {
	Draft(ctx context.Context, req drafting.Request) []drafting.Proposal
}

// QueryResult reports one keyword or tracked account.
type QueryResult struct {
	Query           string           `json:"query"`
	Kind            models.DraftKind `json:"kind"`
	Status          string           `json:"status"`
	Saved           int              `json:"saved"`
	TotalCandidates int              `json:"total_candidates"`
}

// Result is stored as the scrape job result.
type Result struct {
	UserID         string        `json:"user_id"`
	Results        []QueryResult `json:"results"`
	TotalProcessed int           `json:"total_processed"`
}

type Config struct {
	Concurrency int
}

type Pipeline struct {
	store     Store
	sources   func() Source
	filter    Filter
	assembler Assembler
	drafter   Drafter
	cfg       Config
	logger    logging.Logger
}

// New builds a Pipeline. sources is called once per job so every job gets
// its own fetch pool.
func New(st Store, sources func() Source, filter Filter, assembler Assembler, drafter Drafter, cfg Config, logger logging.Logger) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Pipeline{
		store:     st,
		sources:   sources,
		filter:    filter,
		assembler: assembler,
		drafter:   drafter,
		cfg:       cfg,
		logger:    logger,
	}
}

// keywordTask is one search keyword of a scrape_keyword job.
type keywordTask struct {
	slot    int
	keyword string
}

// accountTask is one tracked account of a scrape_user job.
type accountTask struct {
	slot    int
	account models.TrackedAccount
}

// ScrapeKeywords drafts replies and rewrites for the top posts of each of the
// user's search keywords.
func (p *Pipeline) ScrapeKeywords(ctx context.Context, userID string) (Result, error) {
	user, err := p.loadUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	res := Result{UserID: userID, Results: make([]QueryResult, len(user.SearchKeywords))}
	if len(user.SearchKeywords) == 0 {
		p.logger.WithField("user_id", userID).Info("User has no search keywords")
		return res, nil
	}

	draftCtx := p.assembler.Assemble(ctx, userID, user.Persona)
	src := p.sources()

	tasks := make([]keywordTask, 0, len(user.SearchKeywords))
	for i, kw := range user.SearchKeywords {
		tasks = append(tasks, keywordTask{slot: i, keyword: kw})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, t := range tasks {
		g.Go(func() error {
			qr, err := p.runKeyword(gctx, src, userID, draftCtx, t)
			res.Results[t.slot] = qr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	res.TotalProcessed = len(res.Results)
	p.logResult(res, models.KindKeyword)
	return res, nil
}

func (p *Pipeline) runKeyword(ctx context.Context, src Source, owner string, draftCtx memory.AssembledContext, t keywordTask) (QueryResult, error) {
	qr := QueryResult{Query: t.keyword, Kind: models.KindKeyword, Status: StatusNoCandidates}
	candidates := src.Candidates(ctx, t.keyword)
	if len(candidates) == 0 {
		return qr, nil
	}
	return p.draftAndSave(ctx, owner, draftCtx, qr, candidates, true)
}

// ScrapeAccounts drafts replies to the recent posts of each account the user
// tracks. Accounts without a known external id are resolved first.
func (p *Pipeline) ScrapeAccounts(ctx context.Context, userID string) (Result, error) {
	user, err := p.loadUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	accounts, err := p.store.ListTrackedAccounts(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	res := Result{UserID: userID, Results: make([]QueryResult, len(accounts))}
	if len(accounts) == 0 {
		p.logger.WithField("user_id", userID).Info("User tracks no accounts")
		return res, nil
	}

	draftCtx := p.assembler.Assemble(ctx, userID, user.Persona)
	src := p.sources()

	tasks := make([]accountTask, 0, len(accounts))
	for i, acc := range accounts {
		tasks = append(tasks, accountTask{slot: i, account: acc})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, t := range tasks {
		g.Go(func() error {
			qr, err := p.runAccount(gctx, src, userID, draftCtx, t)
			res.Results[t.slot] = qr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	res.TotalProcessed = len(res.Results)
	p.logResult(res, models.KindAccount)
	return res, nil
}

func (p *Pipeline) runAccount(ctx context.Context, src Source, owner string, draftCtx memory.AssembledContext, t accountTask) (QueryResult, error) {
	acc := t.account
	handle := strings.TrimPrefix(strings.TrimSpace(acc.Handle), "@")
	qr := QueryResult{Query: handle, Kind: models.KindAccount, Status: StatusNoCandidates}

	externalID := acc.ExternalID
	if externalID == "" {
		profile, ok := src.Profile(ctx, handle)
		if !ok {
			p.logger.WithFields(logging.Fields{"user_id": owner, "handle": handle}).Warn("Tracked account could not be resolved")
			return qr, nil
		}
		externalID = profile.ExternalID
		if err := p.store.UpdateTrackedAccountProfile(ctx, owner, acc.Handle, profile); err != nil {
			p.logger.WithError(err).WithField("handle", handle).Warn("Failed to save resolved profile")
		}
	}

	candidates := src.UserPosts(ctx, externalID, handle)
	if len(candidates) == 0 {
		return qr, nil
	}
	return p.draftAndSave(ctx, owner, draftCtx, qr, candidates, false)
}

// draftAndSave filters candidates, drafts proposals and upserts one draft per
// proposal. Only a store failure is returned.
func (p *Pipeline) draftAndSave(ctx context.Context, owner string, draftCtx memory.AssembledContext, qr QueryResult, candidates []models.CandidatePost, wantRewrite bool) (QueryResult, error) {
	qr.TotalCandidates = len(candidates)
	pool := p.filter.Apply(candidates)

	proposals := p.drafter.Draft(ctx, drafting.Request{
		Candidates:  pool,
		Context:     draftCtx,
		Kind:        qr.Kind,
		Query:       qr.Query,
		WantRewrite: wantRewrite,
	})
	for _, prop := range proposals {
		c := prop.Candidate
		if c.SourceID == "" || c.BodyText == "" {
			continue
		}
		item := models.DraftedItem{
			SourceID:        c.SourceID,
			OwnerUserID:     owner,
			Kind:            qr.Kind,
			OriginQuery:     qr.Query,
			BodyText:        c.BodyText,
			AuthorHandle:    c.AuthorHandle,
			AuthorAvatarURL: c.AuthorAvatarURL,
			PostedAt:        c.PostedAt,
			DraftedReply:    prop.Reply,
			ReplyState:      models.StatePending,
		}
		if wantRewrite {
			item.DraftedRewrite = prop.Rewrite
			item.RewriteState = models.StatePending
		}
		if err := p.store.UpsertDraft(ctx, item); err != nil {
			return qr, fmt.Errorf("save draft for %q: %w", qr.Query, err)
		}
		qr.Saved++
	}
	draftsSaved.WithLabelValues(string(qr.Kind)).Add(float64(qr.Saved))
	qr.Status = StatusSuccess
	return qr, nil
}

// loadUser turns an unknown user into a permanent job failure.
func (p *Pipeline) loadUser(ctx context.Context, userID string) (models.User, error) {
	user, err := p.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return models.User{}, jobs.Permanent(err)
	}
	return user, err
}

func (p *Pipeline) logResult(res Result, kind models.DraftKind) {
	saved := 0
	for _, r := range res.Results {
		saved += r.Saved
	}
	p.logger.WithFields(logging.Fields{
		"user_id":         res.UserID,
		"kind":            kind,
		"total_processed": res.TotalProcessed,
		"saved":           saved,
	}).Info("Scrape complete")
}

// HandleScrapeKeyword is the scrape_keyword job handler.
func (p *Pipeline) HandleScrapeKeyword(ctx context.Context, job jobs.Job) (any, error) {
	return p.ScrapeKeywords(ctx, job.OwnerUserID)
}

// HandleScrapeUser is the scrape_user job handler.
func (p *Pipeline) HandleScrapeUser(ctx context.Context, job jobs.Job) (any, error) {
	return p.ScrapeAccounts(ctx, job.OwnerUserID)
}
