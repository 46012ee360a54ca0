package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"event-integrations/internal/config"
	"event-integrations/internal/domain/integration"
	pgRepo "event-integrations/internal/infra/adapter/persistence/postgres"
	"event-integrations/internal/infra/db"
	"event-integrations/internal/infra/notifier"
	"event-integrations/internal/infra/transport"
	"event-integrations/internal/infra/transport/jetstream"
	"event-integrations/internal/infra/transport/memory"
	"event-integrations/internal/infra/transport/redisstream"
	workerPkg "event-integrations/internal/infra/worker"
	"event-integrations/internal/observability/logging"
	"event-integrations/internal/observability/metrics"
	"event-integrations/internal/observability/tracing"
	"event-integrations/internal/repository"
	"event-integrations/internal/resilience/circuitbreaker"
	"event-integrations/internal/resilience/retry"
	"event-integrations/internal/usecase/dispatch"
)

// dbStatsInterval is how often pool statistics are published.
const dbStatsInterval = 15 * time.Second

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)
	tracing.InstallPropagator()

	if err := run(logger); err != nil {
		logger.Error("worker stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Invalid values fall back to defaults; only conflicting values stop startup.
	workerMetrics := workerPkg.NewWorkerMetrics()
	cfg, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		return fmt.Errorf("load worker configuration: %w", err)
	}
	logger.Info("worker configuration loaded",
		slog.String("transport_backend", cfg.TransportBackend),
		slog.Bool("dead_letter_store", cfg.DatabaseURL != ""),
		slog.String("purge_schedule", cfg.DeadLetterPurgeSchedule),
		slog.String("timezone", cfg.Timezone),
		slog.Duration("dead_letter_retention", cfg.DeadLetterRetention),
		slog.Bool("dry_run", cfg.DryRun),
		slog.Int("health_port", cfg.HealthPort),
		slog.Int("metrics_port", cfg.MetricsPort))

	listeners, err := loadListenerConfigurations(logger, cfg.ListenerConfigPath)
	if err != nil {
		return err
	}

	healthServer := workerPkg.NewHealthServer(fmt.Sprintf(":%d", cfg.HealthPort), logger)

	broker, topology, err := openTransport(ctx, logger, cfg, healthServer)
	if err != nil {
		return err
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Error("failed to close transport", slog.Any("error", err))
		}
	}()

	deadLetters, err := openDeadLetterStore(ctx, logger, cfg, workerMetrics, healthServer)
	if err != nil {
		return err
	}
	defer deadLetters.close()

	store, err := loadConfigurationStore(logger, cfg.IntegrationsPath)
	if err != nil {
		return err
	}

	registry := newRegistry(logger, cfg.DryRun)
	host, err := dispatch.NewHost(listeners, senderLookup(registry), dispatch.Dependencies{
		Transport:   broker,
		Topology:    topology,
		Store:       store,
		Renderer:    dispatch.NewJSONRenderer(),
		DeadLetters: deadLetters.sink,
	})
	if err != nil {
		return fmt.Errorf("create listener host: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreClosed(healthServer.Start(gctx))
	})
	g.Go(func() error {
		return ignoreClosed(startMetricsServer(gctx, logger, cfg.MetricsPort, host, deadLetters.repo))
	})

	if purge := deadLetters.purge; purge != nil {
		scheduler, err := purge.Schedule(gctx, cfg)
		if err != nil {
			return fmt.Errorf("schedule dead letter purge: %w", err)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		logger.Info("dead letter purge scheduled",
			slog.String("schedule", cfg.DeadLetterPurgeSchedule),
			slog.String("timezone", cfg.Timezone))
	}

	hostDone := make(chan error, 1)
	g.Go(func() error {
		// Listeners stopping for any reason stops the whole worker.
		defer stop()
		err := host.Run(gctx)
		hostDone <- err
		return err
	})

	healthServer.SetReady(true)
	logger.Info("worker started", slog.Int("listeners", len(host.Listeners())))

	<-gctx.Done()
	healthServer.SetReady(false)
	logger.Info("worker shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))

	select {
	case <-hostDone:
	case <-time.After(cfg.ShutdownTimeout):
		return fmt.Errorf("listeners did not stop within %s", cfg.ShutdownTimeout)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}

// loadListenerConfigurations fails when any integration type is missing a
// queue or subscription name.
func loadListenerConfigurations(logger *slog.Logger, path string) ([]config.ListenerConfiguration, error) {
	settings := config.DefaultSettings()
	if path != "" {
		loaded, err := config.LoadSettings(path)
		if err != nil {
			return nil, err
		}
		settings = loaded
	} else {
		logger.Warn("LISTENER_CONFIG_PATH not set, using default listener names")
	}

	listeners, err := config.NewListenerConfigurations(settings)
	if err != nil {
		return nil, fmt.Errorf("build listener configurations: %w", err)
	}
	for _, l := range listeners {
		logger.Info("listener configured",
			slog.String("integration_type", l.Type.String()),
			slog.String("event_queue", l.EventQueueName),
			slog.String("integration_queue", l.IntegrationQueueName),
			slog.Int("max_retries", l.MaxRetries))
	}
	return listeners, nil
}

// openTransport connects to the configured broker. Redis streams fan topics
// out to subscriptions; JetStream and the in-process bus route to queues.
func openTransport(ctx context.Context, logger *slog.Logger, cfg *workerPkg.WorkerConfig, health *workerPkg.HealthServer) (transport.Transport, dispatch.Topology, error) {
	switch cfg.TransportBackend {
	case workerPkg.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		t := redisstream.New(client, redisstream.DefaultConfig())
		if err := retry.WithBackoff(ctx, retry.BrokerConnectConfig().Named("redis connect"), func() error {
			return t.Ping(ctx)
		}); err != nil {
			_ = t.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		health.AddCheck("redis", t.Ping)
		logger.Info("transport connected", slog.String("backend", "redis"), slog.String("addr", cfg.RedisAddr))
		return t, dispatch.TopicTopology{}, nil

	case workerPkg.BackendNATS:
		var t *jetstream.Transport
		if err := retry.WithBackoff(ctx, retry.BrokerConnectConfig().Named("nats connect"), func() error {
			var err error
			t, err = jetstream.New(ctx, cfg.NATSURL, jetstream.DefaultConfig())
			return err
		}); err != nil {
			return nil, nil, fmt.Errorf("connect to nats at %s: %w", cfg.NATSURL, err)
		}
		health.AddCheck("nats", t.Ping)
		logger.Info("transport connected", slog.String("backend", "nats"), slog.String("url", cfg.NATSURL))
		return t, dispatch.QueueTopology{}, nil

	default:
		logger.Warn("using in-process transport, messages are lost on restart")
		return memory.NewBus(memory.DefaultConfig()), dispatch.QueueTopology{}, nil
	}
}

// deadLetterStore is where dispatch writes dead letters. repo and purge are
// nil when no database is configured.
type deadLetterStore struct {
	sink  dispatch.DeadLetterSink
	repo  repository.DeadLetterRepository
	purge *workerPkg.PurgeJob
	close func()
}

// openDeadLetterStore returns the PostgreSQL store and its purge job when
// DATABASE_URL is set, and a logging sink otherwise.
func openDeadLetterStore(ctx context.Context, logger *slog.Logger, cfg *workerPkg.WorkerConfig, m *workerPkg.WorkerMetrics, health *workerPkg.HealthServer) (*deadLetterStore, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, dead letters are logged only")
		return &deadLetterStore{sink: dispatch.LoggingDeadLetterSink{}, close: func() {}}, nil
	}

	var database *sql.DB
	if err := retry.WithBackoff(ctx, retry.BrokerConnectConfig().Named("postgres connect"), func() error {
		var err error
		database, err = db.Open(ctx, cfg.DatabaseURL)
		return err
	}); err != nil {
		return nil, fmt.Errorf("open dead letter database: %w", err)
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}

	if err := db.MigrateUp(database); err != nil {
		closeDB()
		return nil, fmt.Errorf("migrate dead letter schema: %w", err)
	}

	breaker := circuitbreaker.NewDBCircuitBreaker(database)
	health.AddCheck("database", breaker.PingContext)
	go publishDBStats(ctx, database)

	repo := pgRepo.NewDeadLetterRepo(breaker)
	logger.Info("dead letter store ready")
	return &deadLetterStore{
		sink:  repo,
		repo:  repo,
		purge: workerPkg.NewPurgeJob(repo, cfg.DeadLetterRetention, m, logger),
		close: closeDB,
	}, nil
}

func publishDBStats(ctx context.Context, database *sql.DB) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		metrics.UpdateDBConnectionStats(database.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func loadConfigurationStore(logger *slog.Logger, path string) (*dispatch.StaticConfigurationStore, error) {
	if path == "" {
		logger.Warn("INTEGRATIONS_PATH not set, no integrations are configured")
		return dispatch.NewStaticConfigurationStore(), nil
	}
	store, err := dispatch.LoadStaticConfigurationStore(path)
	if err != nil {
		return nil, fmt.Errorf("load integrations: %w", err)
	}
	logger.Info("integrations loaded", slog.String("path", path))
	return store, nil
}

func newRegistry(logger *slog.Logger, dryRun bool) *notifier.Registry {
	if dryRun {
		logger.Warn("DRY_RUN enabled, messages are logged instead of sent")
		return notifier.NewDryRunRegistry(logger)
	}
	return notifier.NewDefaultRegistry(notifier.DefaultConfig())
}

func senderLookup(registry *notifier.Registry) dispatch.SenderFunc {
	return func(t integration.Type) (dispatch.Sender, bool) {
		s, ok := registry.Get(t)
		if !ok {
			return nil, false
		}
		return s, true
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
