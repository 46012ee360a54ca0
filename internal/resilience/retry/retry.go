// Package retry provides exponential backoff and jitter helpers.
// Message-level retries compute their schedule with ExponentialDelay and
// UniformJitter; WithBackoff retries short in-process operations such as
// connecting to a broker or writing a dead letter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// maxExponent keeps 2^n seconds inside time.Duration.
const maxExponent = 32

// Config describes one bounded in-process retry loop.
type Config struct {
	// Operation names the loop in log lines, e.g. "redis connect".
	Operation string

	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFraction adds up to this fraction of each delay, 0.0 to 1.0.
	JitterFraction float64
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		Operation:      "operation",
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// BrokerConnectConfig is for reaching Redis, NATS or postgres at startup,
// which often come up after the worker in container environments.
func BrokerConnectConfig() Config {
	return Config{
		Operation:      "connect",
		MaxAttempts:    10,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// DBConfig is for single dead-letter statements: a few quick attempts, since
// the caller is holding a broker delivery open.
func DBConfig() Config {
	return Config{
		Operation:      "dead-letter write",
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Named returns a copy of c that logs as op.
func (c Config) Named(op string) Config {
	c.Operation = op
	return c
}

// ExponentialDelay returns 2^attempt seconds. Negative attempts count as zero
// and very large attempts are capped so the result cannot overflow.
func ExponentialDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxExponent {
		attempt = maxExponent
	}
	return time.Duration(int64(1)<<uint(attempt)) * time.Second
}

// UniformJitter returns a random duration in [0, max).
func UniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	// #nosec G404 -- jitter only de-synchronises retries; it needs no cryptographic randomness.
	return time.Duration(rand.Int63n(int64(max)))
}

// ExhaustedError is returned by WithBackoff when every attempt failed.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// WithBackoff calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. Cancellation returns ctx.Err() wrapped.
func WithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	delay := cfg.InitialDelay
	var err error

	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				slog.InfoContext(ctx, "Operation succeeded after retry",
					slog.String("operation", cfg.Operation),
					slog.Int("attempt", attempt))
			}
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			return &ExhaustedError{Operation: cfg.Operation, Attempts: attempt, Err: err}
		}

		slog.WarnContext(ctx, "Operation failed, retrying",
			slog.String("operation", cfg.Operation),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.MaxAttempts),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		if werr := wait(ctx, delay); werr != nil {
			return fmt.Errorf("%s: retry aborted: %w", cfg.Operation, werr)
		}
		delay = next(delay, cfg)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func next(delay time.Duration, cfg Config) time.Duration {
	delay = time.Duration(float64(delay) * cfg.Multiplier)
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	frac := cfg.JitterFraction
	if frac > 1 {
		frac = 1
	}
	if frac <= 0 {
		return delay
	}
	return delay + UniformJitter(time.Duration(float64(delay)*frac))
}

// Permanent marks an error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsRetryable reports whether WithBackoff should try again after err.
// Unknown driver and broker errors are retried; callers wrap errors they
// know are final with Permanent.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.As(err, new(*permanentError)):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
