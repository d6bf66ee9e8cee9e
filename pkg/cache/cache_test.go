package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_HitAfterLoad(t *testing.T) {
	c := New[string](Options{Name: "t", TTL: time.Minute})
	var calls int32
	loader := func(_ context.Context, key string) (string, bool, error) {
		atomic.AddInt32(&calls, 1)
		return "v-" + key, true, nil
	}

	for i := 0; i < 3; i++ {
		v, ok, err := c.Get(context.Background(), "a", loader)
		if err != nil || !ok || v != "v-a" {
			t.Fatalf("unexpected result %q %v %v", v, ok, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	var calls int
	loader := func(context.Context, string) (int, bool, error) {
		calls++
		return calls, true, nil
	}
	_, _, _ = c.Get(context.Background(), "k", loader)
	now = now.Add(2 * time.Minute)
	v, _, _ := c.Get(context.Background(), "k", loader)
	if v != 2 {
		t.Fatalf("expected reload after ttl, got %d", v)
	}
}

func TestCache_NegativeCaching(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, NegativeTTL: time.Minute})
	var calls int32
	loader := func(context.Context, string) (string, bool, error) {
		atomic.AddInt32(&calls, 1)
		return "", false, nil
	}
	for i := 0; i < 2; i++ {
		if _, ok, err := c.Get(context.Background(), "missing", loader); ok || err != nil {
			t.Fatalf("expected not found, got ok=%v err=%v", ok, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected negative answer to be cached, got %d loads", calls)
	}
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, NegativeTTL: time.Minute})
	boom := errors.New("boom")
	if _, _, err := c.Get(context.Background(), "k", func(context.Context, string) (string, bool, error) {
		return "", false, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	v, ok, err := c.Get(context.Background(), "k", func(context.Context, string) (string, bool, error) {
		return "ok", true, nil
	})
	if err != nil || !ok || v != "ok" {
		t.Fatalf("expected reload after error, got %q %v %v", v, ok, err)
	}
}

func TestCache_CollapsesConcurrentLoads(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	var calls int32
	release := make(chan struct{})
	loader := func(context.Context, string) (int, bool, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, true, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Get(context.Background(), "k", loader)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single load, got %d", got)
	}
}

func TestCache_EvictsOldest(t *testing.T) {
	c := New[int](Options{TTL: time.Minute, MaxEntries: 2})
	for i, k := range []string{"a", "b", "c"} {
		v := i
		_, _, _ = c.Get(context.Background(), k, func(context.Context, string) (int, bool, error) { return v, true, nil })
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	var reloaded bool
	_, _, _ = c.Get(context.Background(), "a", func(context.Context, string) (int, bool, error) {
		reloaded = true
		return 0, true, nil
	})
	if !reloaded {
		t.Fatal("expected oldest key to be evicted")
	}
}
