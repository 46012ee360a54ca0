package metrics

import (
	"database/sql"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestRecordProviderRequest(t *testing.T) {
	tests := []struct {
		name       string
		typ        string
		statusCode int
		size       int
	}{
		{name: "accepted", typ: "webhook", statusCode: 202, size: 0},
		{name: "rate limited", typ: "slack", statusCode: 429, size: 64},
		{name: "server error", typ: "teams", statusCode: 503, size: 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := ProviderRequestsTotal.WithLabelValues(tt.typ, strconv.Itoa(tt.statusCode))
			before := testutil.ToFloat64(counter)

			RecordProviderRequest(tt.typ, tt.statusCode, 150*time.Millisecond, tt.size)

			assert.Equal(t, before+1, testutil.ToFloat64(counter))
		})
	}
}

func TestRecordProviderError(t *testing.T) {
	counter := ProviderRequestsTotal.WithLabelValues("hec", "error")
	before := testutil.ToFloat64(counter)

	RecordProviderError("hec", time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecordBreakerState(t *testing.T) {
	tests := []struct {
		state gobreaker.State
		want  float64
	}{
		{state: gobreaker.StateClosed, want: 0},
		{state: gobreaker.StateHalfOpen, want: 1},
		{state: gobreaker.StateOpen, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			RecordBreakerState("integration-webhook-example.com", tt.state)

			got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("integration-webhook-example.com"))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordDBQuery(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDBQuery("dead_letter_insert", 3*time.Millisecond)
	})
	assert.Equal(t, 1, testutil.CollectAndCount(DBQueryDuration, "db_query_duration_seconds"))
}

func TestUpdateDBConnectionStats(t *testing.T) {
	UpdateDBConnectionStats(sql.DBStats{InUse: 4, Idle: 6})

	assert.Equal(t, 4.0, testutil.ToFloat64(DBConnectionsActive))
	assert.Equal(t, 6.0, testutil.ToFloat64(DBConnectionsIdle))
}
