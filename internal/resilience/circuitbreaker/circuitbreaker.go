// Package circuitbreaker stops the delivery engine from hammering a provider
// or database that is already failing. It wraps github.com/sony/gobreaker
// with ratio-based tripping, state-change logging and the breaker state gauge.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"event-integrations/internal/observability/metrics"

	"github.com/sony/gobreaker"
)

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name labels log lines and the circuit_breaker_state gauge.
	Name string

	// MaxRequests is how many probes pass while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts. Zero never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the breaker, 0.6 = 60%.
	FailureThreshold float64

	// MinRequests is the sample size required before the ratio is checked.
	MinRequests uint32

	// IsSuccessful decides whether an error counts against the breaker.
	// Nil means every non-nil error is a failure.
	IsSuccessful func(err error) bool

	// OnStateChange is called after the state-change log line. Optional.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultConfig returns a general-purpose configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// IntegrationConfig returns configuration for a provider sender.
// Providers recover slowly, so the breaker stays open longer than the default
// and needs a clear majority of failures before it trips.
func IntegrationConfig(name string) Config {
	return Config{
		Name:             "integration-" + name,
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          2 * time.Minute,
		FailureThreshold: 0.7,
		MinRequests:      10,
	}
}

// CircuitBreaker is a named gobreaker.CircuitBreaker.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New creates a breaker and publishes its initial closed state.
func New(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: cfg.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.RecordBreakerState(name, to)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	metrics.RecordBreakerState(cfg.Name, gobreaker.StateClosed)
	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Do runs fn through cb. While the breaker is open it returns
// gobreaker.ErrOpenState without calling fn.
func Do[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	v, _ := out.(T)
	return v, err
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen returns true if the circuit breaker is in the open state.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}

// IsRejection reports whether err came from the breaker refusing the call
// rather than from the wrapped function.
func IsRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Set lazily creates one breaker per key from a shared Config, so a failing
// destination does not open the circuit for its healthy neighbours.
// Breaker names are "<cfg.Name>-<key>".
type Set struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewSet returns an empty Set.
func NewSet(cfg Config) *Set {
	return &Set{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for key, creating it on first use.
func (s *Set) Get(key string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[key]; ok {
		return cb
	}
	cfg := s.cfg
	cfg.Name = s.cfg.Name + "-" + key
	cb := New(cfg)
	s.breakers[key] = cb
	return cb
}

// Timeout is the open-state duration shared by every breaker in the set.
func (s *Set) Timeout() time.Duration { return s.cfg.Timeout }

// Len returns the number of breakers created so far.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.breakers)
}
