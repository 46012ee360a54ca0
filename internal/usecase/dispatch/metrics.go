package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the dispatch pipeline
var (
	// eventsReceivedTotal tracks domain events consumed per integration type
	eventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_events_received_total",
			Help: "Total number of domain events consumed",
		},
		[]string{"type"},
	)

	// messagesPublishedTotal tracks integration messages produced from events
	messagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_messages_published_total",
			Help: "Total number of integration messages published for delivery",
		},
		[]string{"type"},
	)

	// renderFailuresTotal tracks configurations skipped because rendering failed
	renderFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_render_failures_total",
			Help: "Total number of template render failures",
		},
		[]string{"type"},
	)

	// deliveryAttemptsTotal tracks delivery attempts per type
	deliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_delivery_attempts_total",
			Help: "Total number of delivery attempts",
		},
		[]string{"type"},
	)

	// deliveryResultsTotal tracks attempt outcomes per type
	deliveryResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_delivery_results_total",
			Help: "Total number of delivery results by outcome",
		},
		[]string{"type", "outcome"}, // outcome: success|<failure category>
	)

	// deliveryDuration tracks how long a provider takes to answer
	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "integration_delivery_duration_seconds",
			Help:    "Delivery attempt duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type"},
	)

	// retriesScheduledTotal tracks messages rescheduled with backoff
	retriesScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_retries_scheduled_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"type"},
	)

	// deferredTotal tracks messages handed back to the broker because they arrived early
	deferredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_deferred_total",
			Help: "Total number of messages deferred until their retry time",
		},
		[]string{"type"},
	)

	// deadLettersTotal tracks terminal failures
	deadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_dead_letters_total",
			Help: "Total number of dead-lettered messages",
		},
		[]string{"type", "cause"}, // cause: non_retryable|retries_exhausted|undecodable
	)

	// deliveriesInFlight tracks attempts currently waiting on a provider
	deliveriesInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "integration_deliveries_in_flight",
			Help: "Number of delivery attempts in progress",
		},
		[]string{"type"},
	)
)

// RecordEventReceived records a consumed domain event.
func RecordEventReceived(typ string) {
	eventsReceivedTotal.WithLabelValues(typ).Inc()
}

// RecordMessagePublished records a message published for delivery.
func RecordMessagePublished(typ string) {
	messagesPublishedTotal.WithLabelValues(typ).Inc()
}

// RecordRenderFailure records a configuration skipped because its template failed.
func RecordRenderFailure(typ string) {
	renderFailuresTotal.WithLabelValues(typ).Inc()
}

// RecordAttempt records the start of a delivery attempt.
func RecordAttempt(typ string) {
	deliveryAttemptsTotal.WithLabelValues(typ).Inc()
	deliveriesInFlight.WithLabelValues(typ).Inc()
}

// RecordResult records the outcome of a delivery attempt and its duration.
//
// Parameters:
//   - typ: The integration type
//   - outcome: "success" or the failure category name
//   - duration: The time the provider call took
func RecordResult(typ, outcome string, duration time.Duration) {
	deliveriesInFlight.WithLabelValues(typ).Dec()
	deliveryResultsTotal.WithLabelValues(typ, outcome).Inc()
	deliveryDuration.WithLabelValues(typ).Observe(duration.Seconds())
}

// RecordRetryScheduled records a message rescheduled with backoff.
func RecordRetryScheduled(typ string) {
	retriesScheduledTotal.WithLabelValues(typ).Inc()
}

// RecordDeferred records a message redelivered before its retry time.
func RecordDeferred(typ string) {
	deferredTotal.WithLabelValues(typ).Inc()
}

// RecordDeadLetter records a terminal failure.
func RecordDeadLetter(typ, cause string) {
	deadLettersTotal.WithLabelValues(typ, cause).Inc()
}
