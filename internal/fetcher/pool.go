package fetcher

import (
	"context"
	"errors"
	"sync"
	"time"
)

// PoolConfig bounds and paces calls against the upstream API.
type PoolConfig struct {
	// Size is the number of calls allowed in flight.
	Size int
	// Delay is slept after each acquisition, before the call.
	Delay time.Duration
	// CooloffBase is the pool-wide pause after the first 429. It doubles on
	// each consecutive 429 up to CooloffMax.
	CooloffBase time.Duration
	CooloffMax  time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:        2,
		Delay:       time.Second,
		CooloffBase: 2 * time.Second,
		CooloffMax:  time.Minute,
	}
}

// Pool is a permit pool shared by the calls of one job.
type Pool struct {
	cfg     PoolConfig
	permits chan struct{}
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time

	mu             sync.Mutex
	consecutive429 int
	pausedUntil    time.Time
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.CooloffMax < cfg.CooloffBase {
		cfg.CooloffMax = cfg.CooloffBase
	}
	return &Pool{
		cfg:     cfg,
		permits: make(chan struct{}, cfg.Size),
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Do runs fn holding a permit. A rate-limited result from fn pauses every
// later acquisition on this pool; any other outcome clears the pause streak.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	select {
	case p.permits <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.permits }()

	if wait := p.pauseRemaining(); wait > 0 {
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
	if p.cfg.Delay > 0 {
		if err := p.sleep(ctx, p.cfg.Delay); err != nil {
			return err
		}
	}

	err := fn(ctx)
	if errors.Is(err, ErrRateLimited) {
		p.record429()
	} else {
		p.reset429()
	}
	return err
}

func (p *Pool) pauseRemaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pausedUntil.Sub(p.now())
}

func (p *Pool) record429() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutive429++
	d := p.cfg.CooloffBase
	for i := 1; i < p.consecutive429 && d < p.cfg.CooloffMax; i++ {
		d *= 2
	}
	if d > p.cfg.CooloffMax {
		d = p.cfg.CooloffMax
	}
	until := p.now().Add(d)
	if until.After(p.pausedUntil) {
		p.pausedUntil = until
	}
	poolCooloffs.Inc()
}

func (p *Pool) reset429() {
	p.mu.Lock()
	p.consecutive429 = 0
	p.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
