package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// purgeTimeout bounds one purge run.
const purgeTimeout = 5 * time.Minute

// Purger removes dead letters created before cutoff.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeJob deletes dead letters older than the retention window.
type PurgeJob struct {
	purger    Purger
	retention time.Duration
	metrics   *WorkerMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewPurgeJob creates a purge job. metrics may be nil.
func NewPurgeJob(purger Purger, retention time.Duration, metrics *WorkerMetrics, logger *slog.Logger) *PurgeJob {
	return &PurgeJob{
		purger:    purger,
		retention: retention,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Run performs one purge and returns the number of dead letters removed.
func (j *PurgeJob) Run(ctx context.Context) (int64, error) {
	start := j.now()
	cutoff := start.Add(-j.retention)

	ctx, cancel := context.WithTimeout(ctx, purgeTimeout)
	defer cancel()

	deleted, err := j.purger.PurgeOlderThan(ctx, cutoff)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		j.logger.Error("dead letter purge failed",
			slog.Time("cutoff", cutoff),
			slog.Any("error", err))
		if j.metrics != nil {
			j.metrics.RecordJobRun("failure")
			j.metrics.RecordJobDuration(elapsed)
		}
		return 0, err
	}

	if j.metrics != nil {
		j.metrics.RecordJobRun("success")
		j.metrics.RecordJobDuration(elapsed)
		j.metrics.RecordDeleted(deleted)
		j.metrics.RecordLastSuccess()
	}
	j.logger.Info("dead letter purge completed",
		slog.Time("cutoff", cutoff),
		slog.Int64("deleted", deleted))
	return deleted, nil
}

// Schedule registers the job on a new cron scheduler in cfg's timezone.
// The caller starts and stops the returned scheduler.
func (j *PurgeJob) Schedule(ctx context.Context, cfg *WorkerConfig) (*cron.Cron, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(cfg.DeadLetterPurgeSchedule, func() {
		_, _ = j.Run(ctx)
	}); err != nil {
		return nil, fmt.Errorf("add purge job: %w", err)
	}
	return c, nil
}
