package worker

import (
	"event-integrations/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics holds the worker's configuration metrics and the metrics of
// the scheduled dead-letter purge.
//
// Purge metrics:
//   - worker_purge_job_runs_total{status}
//   - worker_purge_job_duration_seconds
//   - worker_purge_job_deleted_total
//   - worker_purge_job_last_success_timestamp
type WorkerMetrics struct {
	*config.ConfigMetrics

	PurgeJobRunsTotal            *prometheus.CounterVec
	PurgeJobDurationSeconds      prometheus.Histogram
	PurgeJobDeletedTotal         prometheus.Counter
	PurgeJobLastSuccessTimestamp prometheus.Gauge
}

// NewWorkerMetrics creates and registers the worker metrics. It may be
// called once per process.
func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		PurgeJobRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_purge_job_runs_total",
			Help: "Total number of dead-letter purge runs by status (success/failure)",
		}, []string{"status"}),

		PurgeJobDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_purge_job_duration_seconds",
			Help:    "Duration of dead-letter purge runs in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),

		PurgeJobDeletedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_purge_job_deleted_total",
			Help: "Total number of dead letters removed by the purge job",
		}),

		PurgeJobLastSuccessTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_purge_job_last_success_timestamp",
			Help: "Unix timestamp of the last successful dead-letter purge",
		}),
	}
}

// RecordJobRun counts a purge run. status is "success" or "failure".
func (m *WorkerMetrics) RecordJobRun(status string) {
	m.PurgeJobRunsTotal.WithLabelValues(status).Inc()
}

func (m *WorkerMetrics) RecordJobDuration(seconds float64) {
	m.PurgeJobDurationSeconds.Observe(seconds)
}

func (m *WorkerMetrics) RecordDeleted(count int64) {
	m.PurgeJobDeletedTotal.Add(float64(count))
}

func (m *WorkerMetrics) RecordLastSuccess() {
	m.PurgeJobLastSuccessTimestamp.SetToCurrentTime()
}
