// Package metrics holds the process-wide Prometheus metrics that are not
// owned by a single use case: outbound provider HTTP calls, circuit
// breaker state and dead-letter database access.
//
// All metrics register with the default registry through promauto and are
// served on /metrics.
//
//	start := time.Now()
//	resp, err := client.Do(req)
//	metrics.RecordProviderRequest("slack", resp.StatusCode, time.Since(start), n)
package metrics
