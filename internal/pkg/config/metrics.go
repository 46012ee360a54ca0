package config

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConfigMetrics reports how a component's configuration was loaded.
// Metric names are prefixed with the component name, for example
// worker_config_fallbacks_total.
type ConfigMetrics struct {
	// LoadTimestamp is the Unix time of the last load.
	LoadTimestamp prometheus.Gauge

	// ValidationErrorsTotal counts rejected values by field.
	ValidationErrorsTotal *prometheus.CounterVec

	// FallbacksTotal counts applied fallbacks by field and fallback type.
	FallbacksTotal *prometheus.CounterVec

	// FallbackActive is 1 while any field runs on a fallback value.
	FallbackActive prometheus.Gauge

	componentName string
}

// NewConfigMetrics creates and registers the metrics of componentName.
// Each component name may be used once per process.
func NewConfigMetrics(componentName string) *ConfigMetrics {
	return &ConfigMetrics{
		LoadTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_config_load_timestamp", componentName),
			Help: fmt.Sprintf("Unix timestamp of last %s configuration load", componentName),
		}),

		ValidationErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_config_validation_errors_total", componentName),
			Help: fmt.Sprintf("Total number of %s configuration validation errors", componentName),
		}, []string{"field"}),

		FallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_config_fallbacks_total", componentName),
			Help: fmt.Sprintf("Total number of %s configuration fallback operations", componentName),
		}, []string{"field", "type"}),

		FallbackActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_config_fallback_active", componentName),
			Help: fmt.Sprintf("1 if any %s configuration fallback is active, 0 otherwise", componentName),
		}),

		componentName: componentName,
	}
}

// RecordLoadTimestamp sets the load timestamp to now.
func (m *ConfigMetrics) RecordLoadTimestamp() {
	m.LoadTimestamp.SetToCurrentTime()
}

// RecordValidationError counts a rejected value for field.
func (m *ConfigMetrics) RecordValidationError(field string) {
	m.ValidationErrorsTotal.WithLabelValues(field).Inc()
}

// RecordFallback counts a fallback for field. fallbackType is usually "default".
func (m *ConfigMetrics) RecordFallback(field, fallbackType string) {
	m.FallbacksTotal.WithLabelValues(field, fallbackType).Inc()
}

// SetFallbackActive sets the fallback gauge.
func (m *ConfigMetrics) SetFallbackActive(active bool) {
	if active {
		m.FallbackActive.Set(1)
		return
	}
	m.FallbackActive.Set(0)
}

// Report records the outcome of one load: a validation error and a fallback
// when the result fell back, and a warning log line per warning.
func Report[T any](m *ConfigMetrics, warn func(msg string, args ...any), field string, result ConfigLoadResult[T]) bool {
	if !result.FallbackApplied {
		return false
	}
	m.RecordValidationError(field)
	m.RecordFallback(field, "default")
	for _, warning := range result.Warnings {
		warn("Configuration fallback applied",
			"field", field,
			"warning", warning)
	}
	return true
}
