package clients

import (
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"draftdesk/pkg/logging"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// BreakerState mirrors the failsafe-go states for logs and metrics.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "draftdesk",
	Name:      "circuit_breaker_transitions_total",
	Help:      "Circuit breaker state transitions.",
}, []string{"name", "to"})

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	Name string

	// FailureThreshold failures out of the last Window calls trip the breaker.
	FailureThreshold uint
	Window           uint

	// Delay is how long the breaker stays open before probing.
	Delay time.Duration

	// SuccessThreshold half-open successes close it again.
	SuccessThreshold uint

	Logger logging.Logger
}

// DefaultBreakerConfig trips after 5 failures in 10 calls and half-opens after 30s.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		Window:           10,
		Delay:            30 * time.Second,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker wraps a failsafe-go breaker with logging and metrics.
type CircuitBreaker struct {
	cb   circuitbreaker.CircuitBreaker[any]
	name string
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "circuit-breaker"
	}
	if cfg.Window == 0 {
		cfg.Window = 10
	}
	if cfg.FailureThreshold == 0 || cfg.FailureThreshold > cfg.Window {
		cfg.FailureThreshold = cfg.Window / 2
		if cfg.FailureThreshold == 0 {
			cfg.FailureThreshold = 1
		}
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 30 * time.Second
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}

	name := cfg.Name
	logger := cfg.Logger
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.Window).
		WithDelay(cfg.Delay).
		WithSuccessThreshold(cfg.SuccessThreshold).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			from, to := convertState(event.OldState), convertState(event.NewState)
			breakerTransitions.WithLabelValues(name, to.String()).Inc()
			if logger != nil {
				logger.WithFields(logging.Fields{
					"circuit_breaker": name,
					"from_state":      from.String(),
					"to_state":        to.String(),
				}).Warn("Circuit breaker state change")
			}
		}).
		Build()

	return &CircuitBreaker{cb: cb, name: name}
}

func convertState(state circuitbreaker.State) BreakerState {
	switch state {
	case circuitbreaker.HalfOpenState:
		return StateHalfOpen
	case circuitbreaker.OpenState:
		return StateOpen
	default:
		return StateClosed
	}
}

// Call runs fn through the breaker. It returns ErrCircuitOpen without calling fn while open.
func (b *CircuitBreaker) Call(fn func() error) error {
	return failsafe.With[any](b.cb).Run(fn)
}

func (b *CircuitBreaker) State() BreakerState {
	return convertState(b.cb.State())
}

func (b *CircuitBreaker) Name() string {
	return b.name
}
