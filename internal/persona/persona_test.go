package persona

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"draftdesk/internal/jobs"
	"draftdesk/internal/models"
	"draftdesk/internal/store"
	"draftdesk/pkg/llm"
	"draftdesk/pkg/logging"
)

type fakeStore struct {
	users   map[string]models.User
	updated map[string]string
}

func (s *fakeStore) GetUser(_ context.Context, id string) (models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return u, nil
}

func (s *fakeStore) UpdatePersona(_ context.Context, id, persona string) error {
	if s.updated == nil {
		s.updated = map[string]string{}
	}
	s.updated[id] = persona
	return nil
}

type fakeSource struct {
	profiles map[string]models.Profile
	posts    map[string][]models.CandidatePost
}

func (s *fakeSource) Profile(_ context.Context, handle string) (models.Profile, bool) {
	p, ok := s.profiles[handle]
	return p, ok
}

func (s *fakeSource) UserPosts(_ context.Context, externalID, _ string) []models.CandidatePost {
	return s.posts[externalID]
}

type fakeProvider struct {
	text   string
	err    error
	prompt string
}

func (f *fakeProvider) Complete(_ context.Context, msgs []llm.Message) (llm.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.prompt = msgs[len(msgs)-1].Content
	return &fakeStream{text: f.text}, nil
}

type fakeStream struct {
	text string
	done bool
}

func (s *fakeStream) Recv() (llm.Chunk, error) {
	if s.done {
		return llm.Chunk{}, io.EOF
	}
	s.done = true
	return llm.Chunk{Content: s.text}, nil
}

func (s *fakeStream) Close() error { return nil }

type factLog struct {
	texts []string
}

func (f *factLog) Record(_ context.Context, _, text string) {
	f.texts = append(f.texts, text)
}

func posts(n int) []models.CandidatePost {
	out := make([]models.CandidatePost, n)
	for i := range out {
		out[i] = models.CandidatePost{SourceID: fmt.Sprint(i), BodyText: fmt.Sprintf("post %d", i+1)}
	}
	return out
}

func newBuilder(st *fakeStore, src *fakeSource, p llm.Provider, facts *factLog) *Builder {
	return NewBuilder(st, func() Source { return src }, p, facts, 0, logging.NewLogger())
}

func TestBuild_StoresPersonaAndFacts(t *testing.T) {
	st := &fakeStore{users: map[string]models.User{"u1": {ID: "u1", Handle: "@dana"}}}
	src := &fakeSource{
		profiles: map[string]models.Profile{"dana": {ExternalID: "42", Handle: "dana"}},
		posts:    map[string][]models.CandidatePost{"42": append(posts(2), models.CandidatePost{BodyText: "   "})},
	}
	provider := &fakeProvider{text: "  ## BUILDER - COMPRESSED PERSONA\n"}
	facts := &factLog{}

	res, err := newBuilder(st, src, provider, facts).Build(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Status != StatusSuccess || res.PostsProcessed != 2 || res.FactsStored != 3 || res.Handle != "dana" {
		t.Fatalf("result = %+v", res)
	}
	if st.updated["u1"] != "## BUILDER - COMPRESSED PERSONA" {
		t.Fatalf("persona = %q", st.updated["u1"])
	}
	if !strings.Contains(provider.prompt, "- post 1\n- post 2\n") {
		t.Fatalf("prompt missing posts:\n%s", provider.prompt)
	}
	if len(facts.texts) != 3 ||
		!strings.HasSuffix(facts.texts[0], "## BUILDER - COMPRESSED PERSONA") ||
		facts.texts[2] != "User's historical tweet 2: post 2" {
		t.Fatalf("facts = %q", facts.texts)
	}
}

func TestBuild_CapsPosts(t *testing.T) {
	st := &fakeStore{users: map[string]models.User{"u1": {ID: "u1", Handle: "dana"}}}
	src := &fakeSource{
		profiles: map[string]models.Profile{"dana": {ExternalID: "42"}},
		posts:    map[string][]models.CandidatePost{"42": posts(MaxPosts + 10)},
	}
	facts := &factLog{}
	res, err := newBuilder(st, src, &fakeProvider{text: "persona"}, facts).Build(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.PostsProcessed != MaxPosts || len(facts.texts) != MaxPosts+1 {
		t.Fatalf("processed = %d facts = %d", res.PostsProcessed, len(facts.texts))
	}
}

func TestBuild_SkipsWithoutProfileOrPosts(t *testing.T) {
	cases := []struct {
		name   string
		user   models.User
		src    *fakeSource
		status string
	}{
		{"no handle", models.User{ID: "u1"}, &fakeSource{}, StatusNoHandle},
		{"unknown profile", models.User{ID: "u1", Handle: "ghost"}, &fakeSource{}, StatusProfileNotFound},
		{"empty timeline", models.User{ID: "u1", Handle: "dana"}, &fakeSource{
			profiles: map[string]models.Profile{"dana": {ExternalID: "42"}},
		}, StatusNoPosts},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := &fakeStore{users: map[string]models.User{"u1": tc.user}}
			provider := &fakeProvider{text: "persona"}
			res, err := newBuilder(st, tc.src, provider, &factLog{}).Build(context.Background(), "u1")
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if res.Status != tc.status {
				t.Fatalf("status = %q, want %q", res.Status, tc.status)
			}
			if provider.prompt != "" || st.updated != nil {
				t.Fatal("skipped build must not call the model or write the persona")
			}
		})
	}
}

func TestBuild_ModelFailureIsRetryable(t *testing.T) {
	st := &fakeStore{users: map[string]models.User{"u1": {ID: "u1", Handle: "dana", Persona: "old"}}}
	src := &fakeSource{
		profiles: map[string]models.Profile{"dana": {ExternalID: "42"}},
		posts:    map[string][]models.CandidatePost{"42": posts(3)},
	}
	for _, p := range []*fakeProvider{{err: errors.New("quota")}, {text: "  "}} {
		facts := &factLog{}
		_, err := newBuilder(st, src, p, facts).Build(context.Background(), "u1")
		if err == nil || errors.Is(err, jobs.ErrPermanent) {
			t.Fatalf("err = %v, want retryable error", err)
		}
		if st.updated != nil || len(facts.texts) != 0 {
			t.Fatal("failed build must leave the persona and facts alone")
		}
	}
}

func TestHandleBuildPersona_UnknownUserIsPermanent(t *testing.T) {
	b := newBuilder(&fakeStore{}, &fakeSource{}, &fakeProvider{}, &factLog{})
	_, err := b.HandleBuildPersona(context.Background(), jobs.Job{Type: jobs.TypeBuildPersona, OwnerUserID: "ghost"})
	if !errors.Is(err, jobs.ErrPermanent) || !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("err = %v, want permanent ErrUserNotFound", err)
	}
}
