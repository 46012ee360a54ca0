package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"event-integrations/internal/pkg/config"
)

// Transport backends selectable with TRANSPORT_BACKEND.
const (
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// WorkerConfig holds the runtime knobs of the delivery worker.
// Listener names and retry budgets live in the listener settings file,
// not here.
type WorkerConfig struct {
	// HealthPort serves /health and /health/ready.
	HealthPort int

	// MetricsPort serves /metrics.
	MetricsPort int

	// TransportBackend is one of redis, nats or memory.
	TransportBackend string

	RedisAddr string
	NATSURL   string

	// DatabaseURL enables the PostgreSQL dead-letter store. Empty logs
	// dead letters instead of storing them.
	DatabaseURL string

	// ListenerConfigPath points at the YAML listener settings. Empty uses
	// the built-in defaults.
	ListenerConfigPath string

	// IntegrationsPath points at the JSON list of configured integrations.
	IntegrationsPath string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// DeadLetterRetention is how long dead letters are kept.
	DeadLetterRetention time.Duration

	// DeadLetterPurgeSchedule is a five-field cron expression.
	DeadLetterPurgeSchedule string

	// Timezone applies to DeadLetterPurgeSchedule.
	Timezone string

	// DryRun logs messages instead of sending them.
	DryRun bool
}

// DefaultConfig returns defaults suitable for a single local worker.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		HealthPort:              9091,
		MetricsPort:             9090,
		TransportBackend:        BackendMemory,
		RedisAddr:               "localhost:6379",
		NATSURL:                 "nats://localhost:4222",
		ShutdownTimeout:         30 * time.Second,
		DeadLetterRetention:     14 * 24 * time.Hour,
		DeadLetterPurgeSchedule: "15 3 * * *",
		Timezone:                "UTC",
	}
}

// Validate checks every field and reports all problems at once.
func (c *WorkerConfig) Validate() error {
	var errs []error

	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}
	if err := config.ValidateIntRange(c.MetricsPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("metrics port: %w", err))
	}
	if c.HealthPort == c.MetricsPort {
		errs = append(errs, fmt.Errorf("health port and metrics port must differ, both are %d", c.HealthPort))
	}
	if err := config.ValidateOneOf(BackendRedis, BackendNATS, BackendMemory)(c.TransportBackend); err != nil {
		errs = append(errs, fmt.Errorf("transport backend: %w", err))
	}
	if c.TransportBackend == BackendRedis {
		if err := config.ValidateHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("redis addr: %w", err))
		}
	}
	if c.TransportBackend == BackendNATS {
		if err := config.ValidateURL("nats", "tls")(c.NATSURL); err != nil {
			errs = append(errs, fmt.Errorf("nats url: %w", err))
		}
	}
	if c.DatabaseURL != "" {
		if err := config.ValidateURL("postgres", "postgresql")(c.DatabaseURL); err != nil {
			errs = append(errs, fmt.Errorf("database url: %w", err))
		}
	}
	if err := config.ValidatePositiveDuration(c.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("shutdown timeout: %w", err))
	}
	if err := config.ValidateDuration(c.DeadLetterRetention, time.Hour, 365*24*time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("dead letter retention: %w", err))
	}
	if err := config.ValidateCronSchedule(c.DeadLetterPurgeSchedule); err != nil {
		errs = append(errs, fmt.Errorf("dead letter purge schedule: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// LoadConfigFromEnv reads WorkerConfig from the environment. Invalid values
// fall back to defaults with a warning and a metric; the worker still starts.
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	warn := logger.Warn
	fallback := false

	port := func(v int) error { return config.ValidateIntRange(v, 1024, 65535) }

	healthPort := config.LoadEnvInt("WORKER_HEALTH_PORT", cfg.HealthPort, port)
	cfg.HealthPort = healthPort.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "health_port", healthPort) || fallback

	metricsPort := config.LoadEnvInt("METRICS_PORT", cfg.MetricsPort, port)
	cfg.MetricsPort = metricsPort.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "metrics_port", metricsPort) || fallback

	backend := config.LoadEnvWithFallback("TRANSPORT_BACKEND", cfg.TransportBackend,
		config.ValidateOneOf(BackendRedis, BackendNATS, BackendMemory))
	cfg.TransportBackend = backend.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "transport_backend", backend) || fallback

	redisAddr := config.LoadEnvWithFallback("REDIS_ADDR", cfg.RedisAddr, config.ValidateHostPort)
	cfg.RedisAddr = redisAddr.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "redis_addr", redisAddr) || fallback

	natsURL := config.LoadEnvWithFallback("NATS_URL", cfg.NATSURL, config.ValidateURL("nats", "tls"))
	cfg.NATSURL = natsURL.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "nats_url", natsURL) || fallback

	// A broken DATABASE_URL falls back to no database, which keeps dead
	// letters in the log rather than failing every insert.
	databaseURL := config.LoadEnvWithFallback("DATABASE_URL", "", config.ValidateURL("postgres", "postgresql"))
	cfg.DatabaseURL = databaseURL.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "database_url", databaseURL) || fallback

	cfg.ListenerConfigPath = config.LoadEnvString("LISTENER_CONFIG_PATH", "")
	cfg.IntegrationsPath = config.LoadEnvString("INTEGRATIONS_PATH", "")

	shutdown := config.LoadEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Second, 5*time.Minute)
	})
	cfg.ShutdownTimeout = shutdown.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "shutdown_timeout", shutdown) || fallback

	retention := config.LoadEnvDuration("DEADLETTER_RETENTION", cfg.DeadLetterRetention, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Hour, 365*24*time.Hour)
	})
	cfg.DeadLetterRetention = retention.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "deadletter_retention", retention) || fallback

	schedule := config.LoadEnvWithFallback("DEADLETTER_PURGE_SCHEDULE", cfg.DeadLetterPurgeSchedule, config.ValidateCronSchedule)
	cfg.DeadLetterPurgeSchedule = schedule.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "deadletter_purge_schedule", schedule) || fallback

	timezone := config.LoadEnvWithFallback("WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = timezone.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "timezone", timezone) || fallback

	dryRun := config.LoadEnvBool("DRY_RUN", cfg.DryRun)
	cfg.DryRun = dryRun.Value
	fallback = config.Report(metrics.ConfigMetrics, warn, "dry_run", dryRun) || fallback

	metrics.SetFallbackActive(fallback)
	metrics.RecordLoadTimestamp()

	// Individually valid values can still conflict.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
