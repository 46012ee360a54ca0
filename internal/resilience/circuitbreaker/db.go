package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// SQLExecutor is the subset of *sql.DB used by the dead-letter store.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	PingContext(ctx context.Context) error
}

// DBCircuitBreaker wraps a database connection with circuit breaker protection.
// While the database is down, dead-letter writes fail fast instead of piling up
// behind connection timeouts.
type DBCircuitBreaker struct {
	cb *CircuitBreaker
	db SQLExecutor
}

// DBConfig returns configuration for the dead-letter database breaker.
// Caller cancellations and empty result sets do not count as failures.
func DBConfig() Config {
	return Config{
		Name:             "deadletter-db",
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 1.0,
		MinRequests:      5,
		IsSuccessful:     isDBSuccess,
	}
}

func isDBSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled)
}

// NewDBCircuitBreaker creates a new database circuit breaker.
func NewDBCircuitBreaker(db SQLExecutor) *DBCircuitBreaker {
	return NewDBCircuitBreakerWithConfig(db, DBConfig())
}

// NewDBCircuitBreakerWithConfig creates a new database circuit breaker with custom configuration.
func NewDBCircuitBreakerWithConfig(db SQLExecutor, cfg Config) *DBCircuitBreaker {
	return &DBCircuitBreaker{
		cb: New(cfg),
		db: db,
	}
}

// QueryContext executes a query with circuit breaker protection.
func (dcb *DBCircuitBreaker) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return Do(dcb.cb, func() (*sql.Rows, error) {
		return dcb.db.QueryContext(ctx, query, args...)
	})
}

// ExecContext executes a statement with circuit breaker protection.
func (dcb *DBCircuitBreaker) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return Do(dcb.cb, func() (sql.Result, error) {
		return dcb.db.ExecContext(ctx, query, args...)
	})
}

// PingContext checks the connection through the breaker so readiness probes
// see an open circuit as unavailable.
func (dcb *DBCircuitBreaker) PingContext(ctx context.Context) error {
	_, err := Do(dcb.cb, func() (struct{}, error) {
		return struct{}{}, dcb.db.PingContext(ctx)
	})
	return err
}

// State returns the current state of the circuit breaker.
func (dcb *DBCircuitBreaker) State() gobreaker.State {
	return dcb.cb.State()
}

// IsOpen returns true if the circuit breaker is in the open state.
func (dcb *DBCircuitBreaker) IsOpen() bool {
	return dcb.cb.IsOpen()
}
