package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"draftdesk/internal/events"
	"draftdesk/pkg/logging"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, goredis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newBroker(t *testing.T) (*miniredis.Miniredis, goredis.UniversalClient, *Broker) {
	mr, rdb := newRedis(t)
	return mr, rdb, NewBroker(rdb, BrokerConfig{PopTimeout: time.Second}, logging.NewLogger())
}

func fastWorker(b *Broker, l *Limiter, pub OutcomePublisher) *Worker {
	return NewWorker(b, l, WorkerConfig{
		Concurrency: 2,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	}, pub, logging.NewLogger())
}

// take enqueues a job and pops it off the ready list, as a worker would.
func take(t *testing.T, b *Broker, typ Type, owner string) Job {
	t.Helper()
	ctx := context.Background()
	queued, err := b.Enqueue(ctx, typ, owner, TriggerManual)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, ok, err := b.Dequeue(ctx)
	if err != nil || !ok || job.ID != queued.ID {
		t.Fatalf("Dequeue: job=%+v ok=%v err=%v", job, ok, err)
	}
	return job
}

// settle executes a dequeued job until it is terminal, jumping the broker
// clock past each parked retry and taking it back off the queue.
func settle(t *testing.T, w *Worker, b *Broker, job Job) Job {
	t.Helper()
	ctx := context.Background()
	clock := time.Now()
	for i := 0; i < 10; i++ {
		w.Execute(ctx, &job)
		stored, err := b.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if stored.Status.Terminal() {
			return stored
		}
		if stored.Status != StatusRetryQueued {
			t.Fatalf("status after attempt = %s", stored.Status)
		}
		clock = clock.Add(time.Hour)
		now := clock
		b.now = func() time.Time { return now }
		next, ok, err := b.Dequeue(ctx)
		if err != nil || !ok {
			t.Fatalf("retry not ready: ok=%v err=%v", ok, err)
		}
		job = next
	}
	t.Fatal("job never reached a terminal status")
	return Job{}
}

type outcomeLog struct {
	outcomes []events.JobOutcome
}

func (o *outcomeLog) PublishJobOutcome(_ context.Context, out events.JobOutcome) {
	o.outcomes = append(o.outcomes, out)
}

func TestBroker_EnqueueDequeue(t *testing.T) {
	mr, _, b := newBroker(t)
	ctx := context.Background()

	job, err := b.Enqueue(ctx, TypeScrapeUser, "u1", TriggerManual)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != StatusQueued || job.ID == "" {
		t.Fatalf("job = %+v", job)
	}
	if ttl := mr.TTL("draftdesk:job:" + job.ID); ttl != 7*24*time.Hour {
		t.Fatalf("record ttl = %v", ttl)
	}

	got, ok, err := b.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("Dequeue: ok=%v err=%v", ok, err)
	}
	if got.ID != job.ID || got.OwnerUserID != "u1" || got.Type != TypeScrapeUser {
		t.Fatalf("dequeued %+v", got)
	}
	if _, err := b.Get(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Get missing: %v", err)
	}
	if _, err := b.Enqueue(ctx, "bogus", "", TriggerManual); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestBroker_DelayedPromotion(t *testing.T) {
	_, _, b := newBroker(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }

	job := Job{ID: "j1", Type: TypeScrapeKeyword, Status: StatusQueued}
	if err := b.Delay(ctx, &job, now.Add(time.Minute)); err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if n, _ := b.PromoteDue(ctx); n != 0 {
		t.Fatalf("promoted %d before due", n)
	}
	now = now.Add(2 * time.Minute)
	if n, _ := b.PromoteDue(ctx); n != 1 {
		t.Fatalf("promoted %d, want 1", n)
	}
	ready, delayed, err := b.Depth(ctx)
	if err != nil || ready != 1 || delayed != 0 {
		t.Fatalf("depth ready=%d delayed=%d err=%v", ready, delayed, err)
	}
}

func TestWorker_ThreeFailuresThenFailed(t *testing.T) {
	_, _, b := newBroker(t)
	pub := &outcomeLog{}
	w := fastWorker(b, nil, pub)

	var calls atomic.Int32
	w.Handle(TypeScrapeUser, func(context.Context, Job) (any, error) {
		calls.Add(1)
		return nil, errors.New("upstream down")
	})

	job := take(t, b, TypeScrapeUser, "u1")
	stored := settle(t, w, b, job)

	if calls.Load() != 3 {
		t.Fatalf("handler calls = %d, want 3", calls.Load())
	}
	if stored.Status != StatusFailed || stored.AttemptCount != 3 || stored.LastError != "upstream down" {
		t.Fatalf("stored = %+v", stored)
	}
	if len(pub.outcomes) != 1 || pub.outcomes[0].Status != string(StatusFailed) || pub.outcomes[0].Attempts != 3 {
		t.Fatalf("outcomes = %+v", pub.outcomes)
	}
}

func TestWorker_RetryThenSucceed(t *testing.T) {
	_, _, b := newBroker(t)
	w := fastWorker(b, nil, nil)

	var calls atomic.Int32
	w.Handle(TypeScrapeKeyword, func(context.Context, Job) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("flaky")
		}
		return map[string]int{"saved": 5}, nil
	})

	job := take(t, b, TypeScrapeKeyword, "u1")
	stored := settle(t, w, b, job)

	if stored.Status != StatusSucceeded || stored.AttemptCount != 2 || stored.LastError != "" {
		t.Fatalf("stored = %+v", stored)
	}
	var res map[string]int
	if err := json.Unmarshal(stored.Result, &res); err != nil || res["saved"] != 5 {
		t.Fatalf("result = %s err = %v", stored.Result, err)
	}
}

func TestWorker_PermanentErrorNotRetried(t *testing.T) {
	_, _, b := newBroker(t)
	ctx := context.Background()
	w := fastWorker(b, nil, nil)

	var calls atomic.Int32
	w.Handle(TypeScrapeUser, func(context.Context, Job) (any, error) {
		calls.Add(1)
		return nil, Permanent(errors.New("unknown user"))
	})

	job, _ := b.Enqueue(ctx, TypeScrapeUser, "ghost", TriggerManual)
	w.Execute(ctx, &job)

	stored, _ := b.Get(ctx, job.ID)
	if _, delayed, _ := b.Depth(ctx); delayed != 0 {
		t.Fatalf("permanent failure parked %d retries", delayed)
	}
	if calls.Load() != 1 || stored.Status != StatusFailed || stored.AttemptCount != 1 {
		t.Fatalf("calls = %d stored = %+v", calls.Load(), stored)
	}
}

func TestWorker_PanicIsolated(t *testing.T) {
	_, _, b := newBroker(t)
	ctx := context.Background()
	w := fastWorker(b, nil, nil)

	w.Handle(TypeScrapeUser, func(context.Context, Job) (any, error) {
		panic("nil map")
	})
	w.Handle(TypeScrapeKeyword, func(context.Context, Job) (any, error) {
		return "ok", nil
	})

	bad, _ := b.Enqueue(ctx, TypeScrapeUser, "u1", TriggerManual)
	good, _ := b.Enqueue(ctx, TypeScrapeKeyword, "u1", TriggerManual)
	// Drain the ready list so settle only ever dequeues bad's retries.
	for i := 0; i < 2; i++ {
		if _, ok, err := b.Dequeue(ctx); !ok || err != nil {
			t.Fatalf("Dequeue: ok=%v err=%v", ok, err)
		}
	}
	w.Execute(ctx, &good)

	if got := settle(t, w, b, bad); got.Status != StatusFailed || got.AttemptCount != 3 {
		t.Fatalf("panicking job = %+v", got)
	}
	if got, _ := b.Get(ctx, good.ID); got.Status != StatusSucceeded {
		t.Fatalf("healthy job = %+v", got)
	}
}

func TestWorker_RetryIsParkedInDelayedSet(t *testing.T) {
	_, rdb, b := newBroker(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }

	w := fastWorker(b, nil, nil)
	w.Handle(TypeScrapeUser, func(context.Context, Job) (any, error) {
		return nil, errors.New("upstream down")
	})
	job := take(t, b, TypeScrapeUser, "u1")
	w.Execute(ctx, &job)

	parked, _ := b.Get(ctx, job.ID)
	if parked.Status != StatusRetryQueued || parked.AttemptCount != 1 || parked.LastError != "upstream down" {
		t.Fatalf("parked = %+v", parked)
	}
	ready, delayed, _ := b.Depth(ctx)
	if ready != 0 || delayed != 1 {
		t.Fatalf("depth ready=%d delayed=%d", ready, delayed)
	}
	score, err := rdb.ZScore(ctx, "draftdesk:delayed", job.ID).Result()
	if err != nil || int64(score) != now.Add(time.Millisecond).UnixMilli() {
		t.Fatalf("retry at %v err=%v", score, err)
	}

	// A fresh worker, as after a restart, picks the retry up once it is due.
	restarted := fastWorker(b, nil, nil)
	restarted.Handle(TypeScrapeUser, func(context.Context, Job) (any, error) {
		return "ok", nil
	})
	now = now.Add(time.Second)
	next, ok, err := b.Dequeue(ctx)
	if err != nil || !ok || next.Status != StatusRetryQueued {
		t.Fatalf("Dequeue: job=%+v ok=%v err=%v", next, ok, err)
	}
	restarted.Dispatch(ctx, next)
	if got, _ := b.Get(ctx, job.ID); got.Status != StatusSucceeded || got.AttemptCount != 2 {
		t.Fatalf("after restart = %+v", got)
	}
}

func TestWorker_RetryDelayDoublesToCap(t *testing.T) {
	w := fastWorker(nil, nil, nil)
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}
	for i, d := range want {
		if got := w.RetryDelay(i + 1); got != d {
			t.Fatalf("RetryDelay(%d) = %v, want %v", i+1, got, d)
		}
	}
}

func TestWorker_AttemptTimeoutFailsAttempt(t *testing.T) {
	_, _, b := newBroker(t)
	ctx := context.Background()
	w := NewWorker(b, nil, WorkerConfig{
		MaxAttempts:    1,
		BaseDelay:      time.Millisecond,
		AttemptTimeout: 20 * time.Millisecond,
	}, nil, logging.NewLogger())
	w.Handle(TypeIngestStats, func(ctx context.Context, _ Job) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	job, _ := b.Enqueue(ctx, TypeIngestStats, "u1", TriggerManual)
	w.Execute(ctx, &job)
	got, _ := b.Get(ctx, job.ID)
	if got.Status != StatusFailed || got.LastError != "timeout exceeded" {
		t.Fatalf("job = %+v", got)
	}
}

func TestWorker_RateLimitDefersWithoutAttempt(t *testing.T) {
	_, rdb, b := newBroker(t)
	ctx := context.Background()
	lim := NewLimiter(rdb, "", map[Type]Limit{TypeScrapeUser: {Count: 1, Window: time.Minute}})
	w := fastWorker(b, lim, nil)

	var calls atomic.Int32
	w.Handle(TypeScrapeUser, func(context.Context, Job) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	first, _ := b.Enqueue(ctx, TypeScrapeUser, "u1", TriggerFanOut)
	second, _ := b.Enqueue(ctx, TypeScrapeUser, "u2", TriggerFanOut)
	w.Dispatch(ctx, first)
	w.Dispatch(ctx, second)

	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d, want 1", calls.Load())
	}
	deferred, _ := b.Get(ctx, second.ID)
	if deferred.Status != StatusQueued || deferred.AttemptCount != 0 {
		t.Fatalf("deferred = %+v", deferred)
	}
	if _, delayed, _ := b.Depth(ctx); delayed != 1 {
		t.Fatalf("delayed = %d, want 1", delayed)
	}
}

func TestLimiter_FixedWindow(t *testing.T) {
	_, rdb := newRedis(t)
	lim := NewLimiter(rdb, "t", map[Type]Limit{TypeIngestStats: {Count: 2, Window: time.Minute}})
	now := time.Date(2025, 1, 1, 8, 0, 30, 0, time.UTC)
	lim.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, err := lim.Allow(ctx, TypeIngestStats); !ok || err != nil {
			t.Fatalf("call %d denied: %v", i, err)
		}
	}
	ok, retryAt, err := lim.Allow(ctx, TypeIngestStats)
	if ok || err != nil {
		t.Fatalf("third call allowed=%v err=%v", ok, err)
	}
	if want := time.Date(2025, 1, 1, 8, 1, 0, 0, time.UTC); !retryAt.Equal(want) {
		t.Fatalf("retryAt = %v, want %v", retryAt, want)
	}

	now = now.Add(time.Minute)
	if ok, _, _ := lim.Allow(ctx, TypeIngestStats); !ok {
		t.Fatal("next window denied")
	}
	if ok, _, _ := lim.Allow(ctx, TypeFanOut); !ok {
		t.Fatal("unlimited type denied")
	}
}

type fakeUsers []string

func (f fakeUsers) ListUserIDs(context.Context) ([]string, error) { return f, nil }

type flakyEnqueuer struct {
	b    *Broker
	fail string
}

func (f flakyEnqueuer) EnqueueUser(ctx context.Context, id string, trigger Trigger) ([]Job, error) {
	if id == f.fail {
		return nil, errors.New("redis hiccup")
	}
	return f.b.EnqueueUser(ctx, id, trigger)
}

func TestFanOutHandler(t *testing.T) {
	_, _, b := newBroker(t)
	ctx := context.Background()
	h := FanOutHandler(fakeUsers{"a", "b", "c"}, flakyEnqueuer{b: b, fail: "b"}, logging.NewLogger())

	res, err := h(ctx, Job{ID: "fan"})
	if err != nil {
		t.Fatalf("fan-out: %v", err)
	}
	if got := res.(FanOutResult); got.UsersProcessed != 2 || got.UsersFailed != 1 {
		t.Fatalf("result = %+v", got)
	}
	if ready, _, _ := b.Depth(ctx); ready != 4 {
		t.Fatalf("ready = %d, want 4", ready)
	}
}

func TestScheduler_OneFirePerSlot(t *testing.T) {
	_, rdb, b := newBroker(t)
	s, err := NewScheduler(b, rdb, "", logging.NewLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	if fired, err := s.Fire(ctx, at); !fired || err != nil {
		t.Fatalf("first fire = %v, %v", fired, err)
	}
	if fired, err := s.Fire(ctx, at.Add(10*time.Second)); fired || err != nil {
		t.Fatalf("second fire in same slot = %v, %v", fired, err)
	}
	if ready, _, _ := b.Depth(ctx); ready != 1 {
		t.Fatalf("ready = %d, want 1", ready)
	}

	next := s.Next(at, 2)
	if next[0] != time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC) || next[1] != time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC) {
		t.Fatalf("next = %v", next)
	}
	if _, err := NewScheduler(b, rdb, "not a cron", logging.NewLogger()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWorker_RunProcessesQueue(t *testing.T) {
	_, _, b := newBroker(t)
	w := fastWorker(b, nil, nil)
	done := make(chan struct{}, 1)
	w.Handle(TypeFanOut, func(context.Context, Job) (any, error) {
		done <- struct{}{}
		return FanOutResult{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job, _ := b.EnqueueFanOut(ctx, TriggerManual)

	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := b.Get(context.Background(), job.ID)
		if got.Status == StatusSucceeded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
