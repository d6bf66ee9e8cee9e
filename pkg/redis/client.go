package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

// Config selects either a URL (single node) or a list of addresses.
// Addrs with MasterName set connects through Sentinel; more than one Addr without
// MasterName connects to a Cluster.
type Config struct {
	URL          string
	Addrs        []string
	MasterName   string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Connect builds a client for cfg and pings it.
func Connect(ctx context.Context, cfg Config) (goredis.UniversalClient, error) {
	var client goredis.UniversalClient
	switch {
	case cfg.URL != "":
		opts, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.DialTimeout = orDefault(opts.DialTimeout, cfg.DialTimeout)
		opts.ReadTimeout = orDefault(opts.ReadTimeout, cfg.ReadTimeout)
		opts.WriteTimeout = orDefault(opts.WriteTimeout, cfg.WriteTimeout)
		client = goredis.NewClient(opts)
	case len(cfg.Addrs) > 0:
		client = goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:        cfg.Addrs,
			MasterName:   cfg.MasterName,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  orDefault(0, cfg.DialTimeout),
			ReadTimeout:  orDefault(0, cfg.ReadTimeout),
			WriteTimeout: orDefault(0, cfg.WriteTimeout),
		})
	default:
		return nil, fmt.Errorf("redis url or address is required")
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func orDefault(current, configured time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	if current > 0 {
		return current
	}
	return defaultDialTimeout
}
