package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"draftdesk/internal/drafting"
	"draftdesk/internal/filter"
	"draftdesk/internal/jobs"
	"draftdesk/internal/memory"
	"draftdesk/internal/models"
	"draftdesk/internal/store"
	"draftdesk/pkg/logging"
)

type fakeStore struct {
	mu        sync.Mutex
	users     map[string]models.User
	accounts  []models.TrackedAccount
	drafts    map[string]models.DraftedItem
	profiles  map[string]models.Profile
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]models.User{
			"u1": {ID: "u1", Persona: "backend engineer", SearchKeywords: []string{"ai agents", "golang"}},
		},
		drafts:   map[string]models.DraftedItem{},
		profiles: map[string]models.Profile{},
	}
}

func (f *fakeStore) GetUser(_ context.Context, id string) (models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) ListTrackedAccounts(context.Context, string) ([]models.TrackedAccount, error) {
	return f.accounts, nil
}

func (f *fakeStore) UpdateTrackedAccountProfile(_ context.Context, _, handle string, p models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[handle] = p
	return nil
}

func (f *fakeStore) UpsertDraft(_ context.Context, item models.DraftedItem) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts[item.SourceID] = item
	return nil
}

type fakeSource struct {
	search  map[string][]models.CandidatePost
	posts   map[string][]models.CandidatePost
	profile map[string]models.Profile
}

func (s *fakeSource) Candidates(_ context.Context, q string) []models.CandidatePost {
	return s.search[q]
}

func (s *fakeSource) UserPosts(_ context.Context, externalID, _ string) []models.CandidatePost {
	return s.posts[externalID]
}

func (s *fakeSource) Profile(_ context.Context, handle string) (models.Profile, bool) {
	p, ok := s.profile[handle]
	return p, ok
}

// placeholderDrafter records requests and drafts without a model.
type placeholderDrafter struct {
	mu       sync.Mutex
	requests []drafting.Request
}

func (d *placeholderDrafter) Draft(_ context.Context, req drafting.Request) []drafting.Proposal {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	return drafting.Complete(req.Candidates, nil, req.WantRewrite)
}

type staticAssembler struct{ calls int }

func (a *staticAssembler) Assemble(_ context.Context, _, persona string) memory.AssembledContext {
	a.calls++
	return memory.AssembledContext{Text: persona}
}

func posts(prefix string, n int, promo int) []models.CandidatePost {
	out := make([]models.CandidatePost, 0, n)
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("thoughts on %s number %d", prefix, i)
		if i < promo {
			text += " dm me for the link"
		}
		out = append(out, models.CandidatePost{
			SourceID:     fmt.Sprintf("%s-%d", prefix, i),
			AuthorHandle: "author",
			BodyText:     text,
			OriginQuery:  prefix,
		})
	}
	return out
}

func newPipeline(st *fakeStore, src *fakeSource, d Drafter, a Assembler) *Pipeline {
	return New(st, func() Source { return src }, filter.New(filter.Config{}), a, d, Config{}, logging.NewLogger())
}

func TestScrapeKeywords_BypassesFilterForSmallPool(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{search: map[string][]models.CandidatePost{
		"ai agents": posts("ai", 12, 3),
	}}
	drafter := &placeholderDrafter{}
	asm := &staticAssembler{}

	res, err := newPipeline(st, src, drafter, asm).ScrapeKeywords(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ScrapeKeywords: %v", err)
	}
	if asm.calls != 1 {
		t.Fatalf("context assembled %d times, want 1", asm.calls)
	}
	if res.TotalProcessed != 2 || len(res.Results) != 2 {
		t.Fatalf("result = %+v", res)
	}

	ai := res.Results[0]
	if ai.Query != "ai agents" || ai.Status != StatusSuccess || ai.Saved != 5 || ai.TotalCandidates != 12 {
		t.Fatalf("ai agents result = %+v", ai)
	}
	if golang := res.Results[1]; golang.Status != StatusNoCandidates || golang.Saved != 0 {
		t.Fatalf("golang result = %+v", golang)
	}

	if len(drafter.requests) != 1 {
		t.Fatalf("drafter calls = %d", len(drafter.requests))
	}
	req := drafter.requests[0]
	if len(req.Candidates) != 12 || !req.WantRewrite || req.Kind != models.KindKeyword {
		t.Fatalf("request: %d candidates, rewrite=%v kind=%s", len(req.Candidates), req.WantRewrite, req.Kind)
	}

	if len(st.drafts) != 5 {
		t.Fatalf("stored %d drafts, want 5", len(st.drafts))
	}
	for id, d := range st.drafts {
		if d.OwnerUserID != "u1" || d.ReplyState != models.StatePending || d.RewriteState != models.StatePending || d.DraftedRewrite == "" {
			t.Fatalf("draft %s = %+v", id, d)
		}
	}
}

func TestScrapeKeywords_FiltersLargePool(t *testing.T) {
	st := newFakeStore()
	st.users["u1"] = models.User{ID: "u1", SearchKeywords: []string{"infra"}}
	src := &fakeSource{search: map[string][]models.CandidatePost{
		"infra": posts("infra", 14, 3),
	}}
	drafter := &placeholderDrafter{}

	if _, err := newPipeline(st, src, drafter, &staticAssembler{}).ScrapeKeywords(context.Background(), "u1"); err != nil {
		t.Fatalf("ScrapeKeywords: %v", err)
	}
	if got := len(drafter.requests[0].Candidates); got != 11 {
		t.Fatalf("drafted from %d candidates, want 11", got)
	}
}

func TestScrapeAccounts_InvalidHandleIsNoCandidates(t *testing.T) {
	st := newFakeStore()
	st.accounts = []models.TrackedAccount{{OwnerUserID: "u1", Handle: "@nobody"}}
	drafter := &placeholderDrafter{}

	res, err := newPipeline(st, &fakeSource{}, drafter, &staticAssembler{}).ScrapeAccounts(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ScrapeAccounts: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Status != StatusNoCandidates || res.Results[0].Query != "nobody" {
		t.Fatalf("result = %+v", res)
	}
	if len(drafter.requests) != 0 {
		t.Fatal("drafter called without candidates")
	}
}

func TestScrapeAccounts_ResolvesAndDraftsReplies(t *testing.T) {
	st := newFakeStore()
	st.accounts = []models.TrackedAccount{
		{OwnerUserID: "u1", Handle: "known", ExternalID: "42"},
		{OwnerUserID: "u1", Handle: "fresh"},
	}
	src := &fakeSource{
		posts: map[string][]models.CandidatePost{
			"42": posts("known", 3, 0),
			"77": posts("fresh", 2, 0),
		},
		profile: map[string]models.Profile{"fresh": {ExternalID: "77", Handle: "fresh", Followers: 900}},
	}
	drafter := &placeholderDrafter{}

	res, err := newPipeline(st, src, drafter, &staticAssembler{}).ScrapeAccounts(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ScrapeAccounts: %v", err)
	}
	if res.Results[0].Saved != 3 || res.Results[1].Saved != 2 {
		t.Fatalf("results = %+v", res.Results)
	}
	if p := st.profiles["fresh"]; p.ExternalID != "77" || p.Followers != 900 {
		t.Fatalf("profile write-back = %+v", p)
	}
	if _, ok := st.profiles["known"]; ok {
		t.Fatal("resolved an account that already had an external id")
	}
	for _, d := range st.drafts {
		if d.Kind != models.KindAccount || d.DraftedRewrite != "" || d.RewriteState != "" {
			t.Fatalf("account draft = %+v", d)
		}
	}
}

func TestScrape_UnknownUserIsPermanent(t *testing.T) {
	p := newPipeline(newFakeStore(), &fakeSource{}, &placeholderDrafter{}, &staticAssembler{})
	_, err := p.HandleScrapeKeyword(context.Background(), jobs.Job{OwnerUserID: "ghost"})
	if !errors.Is(err, jobs.ErrPermanent) || !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestScrape_StoreFailureFailsJob(t *testing.T) {
	st := newFakeStore()
	st.upsertErr = errors.New("connection reset")
	src := &fakeSource{search: map[string][]models.CandidatePost{"ai agents": posts("ai", 5, 0)}}

	_, err := newPipeline(st, src, &placeholderDrafter{}, &staticAssembler{}).ScrapeKeywords(context.Background(), "u1")
	if err == nil || errors.Is(err, jobs.ErrPermanent) {
		t.Fatalf("err = %v, want retryable error", err)
	}
}
