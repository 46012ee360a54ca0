package metrics

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

// RecordProviderRequest records a provider call that received a response.
func RecordProviderRequest(integrationType string, statusCode int, duration time.Duration, responseSize int) {
	ProviderRequestsTotal.WithLabelValues(integrationType, strconv.Itoa(statusCode)).Inc()
	ProviderRequestDuration.WithLabelValues(integrationType).Observe(duration.Seconds())
	ProviderResponseSize.WithLabelValues(integrationType).Observe(float64(responseSize))
}

// RecordProviderError records a provider call that failed before a response
// arrived, such as a refused connection or a timeout.
func RecordProviderError(integrationType string, duration time.Duration) {
	ProviderRequestsTotal.WithLabelValues(integrationType, "error").Inc()
	ProviderRequestDuration.WithLabelValues(integrationType).Observe(duration.Seconds())
}

// RecordBreakerState publishes the state of the named circuit breaker.
func RecordBreakerState(circuit string, state gobreaker.State) {
	var value float64
	switch state {
	case gobreaker.StateHalfOpen:
		value = 1
	case gobreaker.StateOpen:
		value = 2
	}
	CircuitBreakerState.WithLabelValues(circuit).Set(value)
}

// RecordDBQuery observes one database operation.
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBConnectionStats publishes pool statistics.
func UpdateDBConnectionStats(stats sql.DBStats) {
	DBConnectionsActive.Set(float64(stats.InUse))
	DBConnectionsIdle.Set(float64(stats.Idle))
}
