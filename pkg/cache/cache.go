package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "draftdesk",
	Name:      "cache_lookups_total",
	Help:      "Cache lookups by cache name and outcome.",
}, []string{"cache", "outcome"})

type Options struct {
	// Name labels metrics.
	Name string
	TTL  time.Duration
	// NegativeTTL keeps "not found" answers. Zero disables negative caching.
	NegativeTTL time.Duration
	// MaxEntries evicts oldest-inserted keys first. Zero means unbounded.
	MaxEntries int
}

// Loader resolves a key. ok=false means the key does not exist.
type Loader[V any] func(ctx context.Context, key string) (V, bool, error)

type entry[V any] struct {
	value     V
	found     bool
	expiresAt time.Time
}

// Cache is an in-process TTL cache that collapses concurrent loads of one key.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]*entry[V]
	order []string
	opts  Options
	sf    singleflight.Group
	now   func() time.Time
}

func New[V any](opts Options) *Cache[V] {
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Cache[V]{
		items: make(map[string]*entry[V]),
		opts:  opts,
		now:   time.Now,
	}
}

type loadResult[V any] struct {
	val V
	ok  bool
}

// Get returns the cached value for key or calls loader once across all concurrent callers.
// Loader errors are never cached.
func (c *Cache[V]) Get(ctx context.Context, key string, loader Loader[V]) (V, bool, error) {
	c.mu.Lock()
	if e, ok := c.items[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		lookups.WithLabelValues(c.opts.Name, "hit").Inc()
		return e.value, e.found, nil
	}
	c.mu.Unlock()
	lookups.WithLabelValues(c.opts.Name, "miss").Inc()

	res, err, _ := c.sf.Do(key, func() (interface{}, error) {
		val, ok, err := loader(ctx, key)
		if err != nil {
			return nil, err
		}
		c.store(key, val, ok)
		return loadResult[V]{val: val, ok: ok}, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	lr := res.(loadResult[V])
	return lr.val, lr.ok, nil
}

func (c *Cache[V]) store(key string, val V, found bool) {
	ttl := c.opts.TTL
	if !found {
		ttl = c.opts.NegativeTTL
	}
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = &entry[V]{value: val, found: found, expiresAt: c.now().Add(ttl)}
	for c.opts.MaxEntries > 0 && len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}

// Delete drops key so the next Get reloads it.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
