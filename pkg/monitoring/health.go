package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents the result of an individual health check
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthCheck performs one dependency check.
type HealthCheck func(ctx context.Context) CheckResult

// HealthChecker runs named checks and folds them into one status.
type HealthChecker struct {
	service string
	version string

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// CheckHealth runs every check. Any unhealthy check makes the service unhealthy.
func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(hc.checks))
	for k, v := range hc.checks {
		checks[k] = v
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult, len(names)),
		Status:    StatusHealthy,
	}
	for _, name := range names {
		result := checks[name](ctx)
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		default:
			status.Status = StatusUnhealthy
		}
	}
	return status
}

// Handler serves the health status, answering 503 when unhealthy.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	}
}

// Pinger is satisfied by *sql.DB wrappers, redis clients and kafka clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseHealthCheck pings a Postgres pool.
func DatabaseHealthCheck(db *sql.DB) HealthCheck {
	if db == nil {
		return PingHealthCheck("database", nil)
	}
	return PingHealthCheck("database", pingFunc(db.PingContext))
}

// PingHealthCheck reports unhealthy when p is nil or its ping fails within 5s.
func PingHealthCheck(name string, p Pinger) HealthCheck {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		if p == nil {
			return CheckResult{Status: StatusUnhealthy, Message: name + " not configured"}
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s ping failed: %v", name, err),
				Latency: time.Since(start).String(),
			}
		}
		return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
	}
}

// OptionalHealthCheck downgrades a failing check to degraded for dependencies
// the service can run without.
func OptionalHealthCheck(check HealthCheck) HealthCheck {
	return func(ctx context.Context) CheckResult {
		res := check(ctx)
		if res.Status == StatusUnhealthy {
			res.Status = StatusDegraded
		}
		return res
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// PingFunc adapts a function to Pinger.
func PingFunc(f func(ctx context.Context) error) Pinger { return pingFunc(f) }
