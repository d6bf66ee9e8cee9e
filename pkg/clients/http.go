package clients

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// DefaultTransport caps per-host connections so a slow upstream cannot pile up sockets.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost:     32,
		MaxIdleConnsPerHost: 8,
		MaxIdleConns:        64,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// NewHTTPClient returns a client using DefaultTransport with the given overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: DefaultTransport(), Timeout: timeout}
}

// ShouldRetryHTTP retries transport errors and 502/503/504.
func ShouldRetryHTTP(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// HTTPExecutorConfig configures NewHTTPExecutor.
type HTTPExecutorConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NewHTTPExecutor builds a retrying executor for idempotent reads. Retried
// responses have their bodies closed before the next attempt.
//
//nolint:bodyclose // the generic parameter is not a live response
func NewHTTPExecutor(cfg HTTPExecutorConfig) failsafe.Executor[*http.Response] {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(ShouldRetryHTTP).
		OnRetryScheduled(func(e failsafe.ExecutionScheduledEvent[*http.Response]) {
			if resp := e.LastResult(); resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}).
		ReturnLastFailure().
		Build()

	return failsafe.With[*http.Response](retry)
}

// DoHTTP runs fn through executor bound to ctx.
//
//nolint:bodyclose // the caller owns the returned body
func DoHTTP(ctx context.Context, executor failsafe.Executor[*http.Response], fn func() (*http.Response, error)) (*http.Response, error) {
	return executor.WithContext(ctx).Get(fn)
}
