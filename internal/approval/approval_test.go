package approval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"draftdesk/internal/events"
	"draftdesk/internal/models"
	"draftdesk/internal/store"
	"draftdesk/pkg/logging"
)

type memStore struct {
	mu     sync.Mutex
	drafts map[string]*models.DraftedItem
	user   models.User
	posted []models.PostedRecord

	// afterGet runs once GetDraft has read the row.
	afterGet func()
}

func (m *memStore) ListPending(_ context.Context, owner string, lane models.Lane) ([]models.DraftedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DraftedItem
	for _, d := range m.drafts {
		if st, _ := d.LaneState(lane); d.OwnerUserID == owner && st == models.StatePending {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStore) GetDraft(_ context.Context, owner, sourceID string) (models.DraftedItem, error) {
	m.mu.Lock()
	d, ok := m.drafts[sourceID]
	var item models.DraftedItem
	if ok {
		item = *d
	}
	m.mu.Unlock()
	if !ok || item.OwnerUserID != owner {
		return models.DraftedItem{}, store.ErrNotPending
	}
	if m.afterGet != nil {
		m.afterGet()
	}
	return item, nil
}

func (m *memStore) transition(owner, sourceID string, lane models.Lane, from, to models.DraftState) (*models.DraftedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[sourceID]
	if !ok || d.OwnerUserID != owner {
		return nil, store.ErrNotPending
	}
	st := &d.ReplyState
	if lane == models.LaneRewrite {
		st = &d.RewriteState
	}
	if *st != from {
		return nil, store.ErrNotPending
	}
	*st = to
	return d, nil
}

func (m *memStore) ClaimLane(_ context.Context, owner, sourceID string, lane models.Lane) error {
	_, err := m.transition(owner, sourceID, lane, models.StatePending, models.StatePosting)
	return err
}

func (m *memStore) ReleaseLane(_ context.Context, owner, sourceID string, lane models.Lane) error {
	_, err := m.transition(owner, sourceID, lane, models.StatePosting, models.StatePending)
	return err
}

func (m *memStore) MarkPosted(_ context.Context, owner, sourceID string, lane models.Lane, finalText, postedID string) error {
	d, err := m.transition(owner, sourceID, lane, models.StatePosting, models.StatePosted)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if lane == models.LaneRewrite {
		d.DraftedRewrite, d.PostedRewriteID = finalText, postedID
	} else {
		d.DraftedReply, d.PostedReplyID = finalText, postedID
	}
	return nil
}

func (m *memStore) MarkCancelled(_ context.Context, owner, sourceID string, lane models.Lane) error {
	_, err := m.transition(owner, sourceID, lane, models.StatePending, models.StateCancelled)
	return err
}

func (m *memStore) GetUser(context.Context, string) (models.User, error) {
	return m.user, nil
}

func (m *memStore) RecordPosted(_ context.Context, rec models.PostedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted = append(m.posted, rec)
	return nil
}

type fakePoster struct {
	mu        sync.Mutex
	calls     int
	inReplyTo string
	text      string
	err       error
}

func (p *fakePoster) Post(_ context.Context, _ models.Credentials, text, inReplyTo string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.text, p.inReplyTo = text, inReplyTo
	if p.err != nil {
		return "", p.err
	}
	return "posted-1", nil
}

type factLog struct {
	mu    sync.Mutex
	facts []string
}

func (f *factLog) Record(_ context.Context, _, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts = append(f.facts, text)
}

type decisionLog struct {
	mu        sync.Mutex
	decisions []events.Decision
}

func (d *decisionLog) PublishDecision(_ context.Context, dec events.Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decisions = append(d.decisions, dec)
}

type fixture struct {
	svc    *Service
	store  *memStore
	poster *fakePoster
	facts  *factLog
	events *decisionLog
}

func newFixture() *fixture {
	st := &memStore{
		drafts: map[string]*models.DraftedItem{
			"111": {
				OwnerUserID:    "u1",
				SourceID:       "111",
				Kind:           models.KindKeyword,
				OriginQuery:    "ai agents",
				BodyText:       strings.Repeat("x", 150),
				AuthorHandle:   "alice",
				DraftedReply:   "great point",
				ReplyState:     models.StatePending,
				DraftedRewrite: "my take",
				RewriteState:   models.StatePending,
			},
		},
		user: models.User{ID: "u1", Credentials: models.Credentials{
			ClientID: "ck", ClientSecret: "cs", AccessToken: "at", AccessTokenSecret: "ats",
		}},
	}
	f := &fixture{store: st, poster: &fakePoster{}, facts: &factLog{}, events: &decisionLog{}}
	f.svc = NewService(st, f.poster, f.facts, f.events, logging.NewLogger())
	return f
}

func TestApplyAction_ConfirmReply(t *testing.T) {
	f := newFixture()
	res, err := f.svc.ApplyAction(context.Background(), "u1", "111", models.LaneReply, ActionConfirm, "")
	if err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if res.State != models.StatePosted || res.PostedID != "posted-1" {
		t.Fatalf("result = %+v", res)
	}
	if f.poster.inReplyTo != "111" || f.poster.text != "great point" {
		t.Fatalf("poster got text=%q inReplyTo=%q", f.poster.text, f.poster.inReplyTo)
	}
	if len(f.facts.facts) != 1 {
		t.Fatalf("facts = %v", f.facts.facts)
	}
	want := "User posted AI reply to @alice without changes. Original tweet: '" + strings.Repeat("x", 100) + "...' AI suggestion: 'great point'"
	if f.facts.facts[0] != want {
		t.Fatalf("fact = %q", f.facts.facts[0])
	}
	if len(f.store.posted) != 1 || f.store.posted[0].PostType != models.PostTypeReply || f.store.posted[0].SourceContext != "@alice" {
		t.Fatalf("posted = %+v", f.store.posted)
	}
	if len(f.events.decisions) != 1 || f.events.decisions[0].State != models.StatePosted {
		t.Fatalf("decisions = %+v", f.events.decisions)
	}
}

func TestApplyAction_TerminalRejectsFurtherActions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.ApplyAction(ctx, "u1", "111", models.LaneReply, ActionCancel, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, a := range []Action{ActionConfirm, ActionEdit, ActionCancel} {
		if _, err := f.svc.ApplyAction(ctx, "u1", "111", models.LaneReply, a, "text"); !errors.Is(err, ErrNotPending) {
			t.Fatalf("%s after cancel: err = %v, want ErrNotPending", a, err)
		}
	}
	if f.poster.calls != 0 {
		t.Fatalf("poster called %d times", f.poster.calls)
	}
	if len(f.facts.facts) != 1 || !strings.HasPrefix(f.facts.facts[0], "User rejected AI reply to @alice.") {
		t.Fatalf("facts = %v", f.facts.facts)
	}

	// The rewrite lane is independent of the reply lane.
	if _, err := f.svc.ApplyAction(ctx, "u1", "111", models.LaneRewrite, ActionConfirm, ""); err != nil {
		t.Fatalf("rewrite confirm: %v", err)
	}
	if f.poster.inReplyTo != "" {
		t.Fatalf("rewrite posted as reply to %q", f.poster.inReplyTo)
	}
	if !strings.HasPrefix(f.facts.facts[1], "User posted AI repurposed content about 'ai agents' without changes.") {
		t.Fatalf("fact = %q", f.facts.facts[1])
	}
	if f.store.posted[0].PostType != models.PostTypeRewrite {
		t.Fatalf("posted = %+v", f.store.posted)
	}
}

func TestApplyAction_EditPostsUserText(t *testing.T) {
	f := newFixture()
	res, err := f.svc.ApplyAction(context.Background(), "u1", "111", models.LaneReply, "EDIT", "  my words  ")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if res.Text != "my words" || f.poster.text != "my words" {
		t.Fatalf("posted %q", f.poster.text)
	}
	if f.store.drafts["111"].DraftedReply != "my words" {
		t.Fatalf("final text not stored: %q", f.store.drafts["111"].DraftedReply)
	}
	if !strings.HasSuffix(f.facts.facts[0], "AI suggestion: 'great point' User changed to: 'my words'") {
		t.Fatalf("fact = %q", f.facts.facts[0])
	}
}

func TestApplyAction_Validation(t *testing.T) {
	ctx := context.Background()

	f := newFixture()
	if _, err := f.svc.ApplyAction(ctx, "u1", "111", models.LaneReply, ActionEdit, "  "); !errors.Is(err, ErrEditTextRequired) {
		t.Fatalf("edit without text: %v", err)
	}
	if _, err := f.svc.ApplyAction(ctx, "u1", "111", models.LaneReply, "retweet", ""); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("unknown action: %v", err)
	}
	if _, err := f.svc.ApplyAction(ctx, "u1", "nope", models.LaneReply, ActionConfirm, ""); !errors.Is(err, ErrNotPending) {
		t.Fatalf("missing draft: %v", err)
	}
	if _, err := f.svc.ApplyAction(ctx, "u2", "111", models.LaneReply, ActionConfirm, ""); !errors.Is(err, ErrNotPending) {
		t.Fatalf("foreign draft: %v", err)
	}

	f.store.drafts["111"].DraftedReply = ""
	if _, err := f.svc.ApplyAction(ctx, "u1", "111", models.LaneReply, ActionConfirm, ""); !errors.Is(err, ErrDraftMissing) {
		t.Fatalf("empty draft: %v", err)
	}
	if len(f.facts.facts) != 0 || f.poster.calls != 0 {
		t.Fatalf("validation failures must have no side effects")
	}
}

func TestApplyAction_MissingCredentials(t *testing.T) {
	f := newFixture()
	f.store.user.Credentials.AccessTokenSecret = ""
	f.store.user.Credentials.ClientID = ""

	_, err := f.svc.ApplyAction(context.Background(), "u1", "111", models.LaneReply, ActionConfirm, "")
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
	var mc *MissingCredentialsError
	if !errors.As(err, &mc) || strings.Join(mc.Fields, ",") != "client_id,access_token_secret" {
		t.Fatalf("err = %#v", err)
	}
	if f.store.drafts["111"].ReplyState != models.StatePending {
		t.Fatal("draft must stay PENDING")
	}
}

func TestApplyAction_PostFailureKeepsPending(t *testing.T) {
	f := newFixture()
	f.poster.err = errors.New("403 duplicate")
	_, err := f.svc.ApplyAction(context.Background(), "u1", "111", models.LaneReply, ActionConfirm, "")
	if !errors.Is(err, ErrPostFailed) {
		t.Fatalf("err = %v, want ErrPostFailed", err)
	}
	if f.store.drafts["111"].ReplyState != models.StatePending {
		t.Fatal("draft must stay PENDING after a failed post")
	}
	if len(f.facts.facts) != 0 {
		t.Fatalf("facts = %v", f.facts.facts)
	}
}

func TestApplyAction_ConcurrentConfirmsPostOnce(t *testing.T) {
	f := newFixture()
	var barrier sync.WaitGroup
	barrier.Add(2)
	f.store.afterGet = func() {
		barrier.Done()
		barrier.Wait()
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.ApplyAction(context.Background(), "u1", "111", models.LaneReply, ActionConfirm, "")
		}()
	}
	wg.Wait()

	if f.poster.calls != 1 {
		t.Fatalf("poster called %d times, want 1", f.poster.calls)
	}
	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrNotPending):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("errs = %v", errs)
	}
	if f.store.drafts["111"].ReplyState != models.StatePosted || len(f.facts.facts) != 1 || len(f.store.posted) != 1 {
		t.Fatalf("state = %s facts = %v posted = %d", f.store.drafts["111"].ReplyState, f.facts.facts, len(f.store.posted))
	}
}

func TestApplyAction_ClaimedLaneRejectsCancel(t *testing.T) {
	f := newFixture()
	f.store.drafts["111"].ReplyState = models.StatePosting
	for _, a := range []Action{ActionConfirm, ActionCancel} {
		if _, err := f.svc.ApplyAction(context.Background(), "u1", "111", models.LaneReply, a, ""); !errors.Is(err, ErrNotPending) {
			t.Fatalf("%s on POSTING lane: err = %v, want ErrNotPending", a, err)
		}
	}
	if f.poster.calls != 0 {
		t.Fatalf("poster called %d times", f.poster.calls)
	}
}

func TestListPending(t *testing.T) {
	f := newFixture()
	items, err := f.svc.ListPending(context.Background(), "u1", "")
	if err != nil || len(items) != 1 {
		t.Fatalf("items = %v err = %v", items, err)
	}
	if _, err := f.svc.ListPending(context.Background(), "u1", "thread"); err == nil {
		t.Fatal("expected error for unknown lane")
	}
}
