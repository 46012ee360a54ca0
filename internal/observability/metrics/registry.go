package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider metrics track the HTTP calls made to third-party providers.
var (
	// ProviderRequestsTotal counts provider calls by integration type and
	// status. Status is the HTTP status code, or "error" when no response
	// was received.
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_provider_requests_total",
			Help: "Total number of HTTP requests made to integration providers",
		},
		[]string{"integration_type", "status"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "integration_provider_request_duration_seconds",
			Help:    "Integration provider HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"integration_type"},
	)

	ProviderResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "integration_provider_response_size_bytes",
			Help:    "Integration provider response body size in bytes",
			Buckets: prometheus.ExponentialBuckets(16, 4, 8),
		},
		[]string{"integration_type"},
	)
)

// CircuitBreakerState is 0 closed, 1 half-open and 2 open, per breaker.
var CircuitBreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	},
	[]string{"circuit"},
)

// Database metrics cover the dead-letter store.
var (
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)
