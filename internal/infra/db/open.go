package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pkgconfig "event-integrations/internal/pkg/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig sizes the dead-letter store's connection pool.
// Dead-letter writes are rare bursts, so the pool is small.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns the pool used when no DB_* variables are set.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// ErrMissingDSN is returned by Open when no connection string is given.
var ErrMissingDSN = errors.New("database DSN is empty")

// Open connects to postgres through the pgx stdlib driver, applies the pool
// settings from LoadPoolConfig and pings once before returning.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrMissingDSN
	}

	pool, warnings := LoadPoolConfig()
	for _, w := range warnings {
		slog.WarnContext(ctx, "Database pool configuration fallback", slog.String("warning", w))
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.apply(db)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.InfoContext(ctx, "Dead-letter database connected",
		slog.Int("max_open_conns", pool.MaxOpenConns),
		slog.Int("max_idle_conns", pool.MaxIdleConns),
		slog.Duration("conn_max_lifetime", pool.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", pool.ConnMaxIdleTime))
	return db, nil
}

// LoadPoolConfig reads DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS,
// DB_CONN_MAX_LIFETIME and DB_CONN_MAX_IDLE_TIME. Invalid values fall back to
// DefaultPoolConfig and are reported as warnings. MaxIdleConns is capped at
// MaxOpenConns.
func LoadPoolConfig() (PoolConfig, []string) {
	def := DefaultPoolConfig()
	var warnings []string

	maxOpen := pkgconfig.LoadEnvInt("DB_MAX_OPEN_CONNS", def.MaxOpenConns, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 500)
	})
	maxIdle := pkgconfig.LoadEnvInt("DB_MAX_IDLE_CONNS", def.MaxIdleConns, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 0, 500)
	})
	lifetime := pkgconfig.LoadEnvDuration("DB_CONN_MAX_LIFETIME", def.ConnMaxLifetime, pkgconfig.ValidatePositiveDuration)
	idleTime := pkgconfig.LoadEnvDuration("DB_CONN_MAX_IDLE_TIME", def.ConnMaxIdleTime, pkgconfig.ValidatePositiveDuration)

	warnings = append(warnings, maxOpen.Warnings...)
	warnings = append(warnings, maxIdle.Warnings...)
	warnings = append(warnings, lifetime.Warnings...)
	warnings = append(warnings, idleTime.Warnings...)

	cfg := PoolConfig{
		MaxOpenConns:    maxOpen.Value,
		MaxIdleConns:    maxIdle.Value,
		ConnMaxLifetime: lifetime.Value,
		ConnMaxIdleTime: idleTime.Value,
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		warnings = append(warnings, fmt.Sprintf("DB_MAX_IDLE_CONNS=%d exceeds DB_MAX_OPEN_CONNS=%d, capping", cfg.MaxIdleConns, cfg.MaxOpenConns))
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	return cfg, warnings
}

func (c PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}
