package circuitbreaker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-integrations/internal/observability/metrics"
)

var errProvider = errors.New("provider down")

func testConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 0.5,
		MinRequests:      2,
	}
}

func fail() (int, error) { return 0, errProvider }

func TestNew_StartsClosed(t *testing.T) {
	cb := New(testConfig("starts-closed"))

	assert.Equal(t, "starts-closed", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.False(t, cb.IsOpen())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("starts-closed")))
}

func TestDo_ReturnsTypedResult(t *testing.T) {
	cb := New(testConfig("typed"))

	got, err := Do(cb, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	n, err := Do(cb, fail)
	assert.ErrorIs(t, err, errProvider)
	assert.Zero(t, n)
}

func TestDo_NilInterfaceResult(t *testing.T) {
	cb := New(testConfig("nil-iface"))

	got, err := Do(cb, func() (fmt.Stringer, error) { return nil, nil })

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCircuitBreaker_TripsAfterMinRequests(t *testing.T) {
	cb := New(testConfig("trips"))

	_, _ = Do(cb, fail)
	assert.Equal(t, gobreaker.StateClosed, cb.State(), "below MinRequests")

	_, _ = Do(cb, fail)
	assert.True(t, cb.IsOpen())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("trips")))

	called := false
	_, err := Do(cb, func() (int, error) { called = true; return 1, nil })
	assert.False(t, called)
	assert.True(t, IsRejection(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreaker_ThresholdNotReached(t *testing.T) {
	cfg := testConfig("below-threshold")
	cfg.FailureThreshold = 0.8
	cfg.MinRequests = 4
	cb := New(cfg)

	for i := 0; i < 3; i++ {
		_, _ = Do(cb, func() (int, error) { return 1, nil })
	}
	_, _ = Do(cb, fail)

	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := New(testConfig("recovers"))
	_, _ = Do(cb, fail)
	_, _ = Do(cb, fail)
	require.True(t, cb.IsOpen())

	require.Eventually(t, func() bool {
		return cb.State() == gobreaker.StateHalfOpen
	}, time.Second, 10*time.Millisecond)

	_, err := Do(cb, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_IsSuccessful(t *testing.T) {
	errClient := errors.New("client error")
	cfg := testConfig("is-successful")
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, errClient) }
	cb := New(cfg)

	for i := 0; i < 5; i++ {
		_, err := Do(cb, func() (int, error) { return 0, errClient })
		assert.ErrorIs(t, err, errClient)
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cfg := testConfig("on-change")
	cfg.OnStateChange = func(name string, from, to gobreaker.State) {
		transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
	}
	cb := New(cfg)

	_, _ = Do(cb, fail)
	_, _ = Do(cb, fail)

	assert.Equal(t, []string{"on-change:closed->open"}, transitions)
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(gobreaker.ErrOpenState))
	assert.True(t, IsRejection(gobreaker.ErrTooManyRequests))
	assert.True(t, IsRejection(fmt.Errorf("insert: %w", gobreaker.ErrOpenState)))
	assert.False(t, IsRejection(errProvider))
	assert.False(t, IsRejection(nil))
}

func TestSet_OneBreakerPerKey(t *testing.T) {
	set := NewSet(testConfig("integration-webhook"))

	a := set.Get("hooks.example.com")
	assert.Same(t, a, set.Get("hooks.example.com"))
	assert.Equal(t, "integration-webhook-hooks.example.com", a.Name())

	_, _ = Do(a, fail)
	_, _ = Do(a, fail)
	require.True(t, a.IsOpen())

	b := set.Get("other.example.com")
	assert.False(t, b.IsOpen(), "a failing host must not open its neighbour")
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 50*time.Millisecond, set.Timeout())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("x")

	assert.Equal(t, "x", cfg.Name)
	assert.Equal(t, uint32(3), cfg.MaxRequests)
	assert.Equal(t, 0.6, cfg.FailureThreshold)
	assert.Equal(t, uint32(5), cfg.MinRequests)
}

func TestIntegrationConfig(t *testing.T) {
	cfg := IntegrationConfig("slack")

	assert.Equal(t, "integration-slack", cfg.Name)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, 0.7, cfg.FailureThreshold)
	assert.Equal(t, uint32(10), cfg.MinRequests)
	assert.Nil(t, cfg.IsSuccessful)
}
