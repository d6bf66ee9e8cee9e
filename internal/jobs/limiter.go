package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Limit allows Count dispatches per Window.
type Limit struct {
	Count  int
	Window time.Duration
}

// DefaultLimits caps each per-user job type at 5 dispatches a minute.
func DefaultLimits() map[Type]Limit {
	l := Limit{Count: 5, Window: time.Minute}
	return map[Type]Limit{
		TypeScrapeUser:    l,
		TypeScrapeKeyword: l,
		TypeIngestStats:   l,
		TypeBuildPersona:  l,
	}
}

// Limiter is a fixed-window counter in Redis shared by every replica.
type Limiter struct {
	rdb    goredis.UniversalClient
	prefix string
	limits map[Type]Limit
	now    func() time.Time
}

func NewLimiter(rdb goredis.UniversalClient, prefix string, limits map[Type]Limit) *Limiter {
	if prefix == "" {
		prefix = DefaultBrokerConfig().Prefix
	}
	return &Limiter{rdb: rdb, prefix: prefix, limits: limits, now: time.Now}
}

// Allow counts one dispatch of typ. When the window is full it returns false
// and the start of the next window.
func (l *Limiter) Allow(ctx context.Context, typ Type) (bool, time.Time, error) {
	lim, ok := l.limits[typ]
	if !ok || lim.Count <= 0 || lim.Window <= 0 {
		return true, time.Time{}, nil
	}
	windowStart := l.now().Truncate(lim.Window)
	key := l.prefix + ":rate:" + string(typ) + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	var incr *goredis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*lim.Window)
		return nil
	})
	if err != nil {
		return false, time.Time{}, fmt.Errorf("rate limit %s: %w", typ, err)
	}
	if incr.Val() > int64(lim.Count) {
		return false, windowStart.Add(lim.Window), nil
	}
	return true, time.Time{}, nil
}
