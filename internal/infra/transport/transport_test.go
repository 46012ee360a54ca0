package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	until := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	action, at := Resolve(nil)
	assert.Equal(t, ActionAck, action)
	assert.True(t, at.IsZero())

	action, at = Resolve(Defer(until))
	assert.Equal(t, ActionDefer, action)
	assert.Equal(t, until, at)

	action, at = Resolve(fmt.Errorf("wrapped: %w", Defer(until)))
	assert.Equal(t, ActionDefer, action)
	assert.Equal(t, until, at)

	action, _ = Resolve(errors.New("boom"))
	assert.Equal(t, ActionNack, action)
}

func TestSubscription(t *testing.T) {
	sub := Subscription{Topic: "integrations", Name: "slack", RoutingKey: "slack"}
	assert.NoError(t, sub.Validate())
	assert.True(t, sub.Matches("slack"))
	assert.False(t, sub.Matches("teams"))

	all := Subscription{Topic: "events", Name: "all"}
	assert.True(t, all.Matches("anything"))

	assert.Error(t, Subscription{Name: "x"}.Validate())
	assert.Error(t, Subscription{Topic: "x"}.Validate())
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "events", Target{Topic: "events"}.String())
	assert.Equal(t, "integrations/slack", Target{Topic: "integrations", RoutingKey: "slack"}.String())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var running, peak, done atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 6; i++ {
		go func() {
			_ = pool.Go(context.Background(), func() {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				running.Add(-1)
				done.Add(1)
			})
		}()
	}

	assert.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	assert.Eventually(t, func() bool { return done.Load() == 6 }, time.Second, 5*time.Millisecond)
	pool.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_GoHonoursContext(t *testing.T) {
	pool := NewPool(1)
	block := make(chan struct{})
	require.NoError(t, pool.Go(context.Background(), func() { <-block }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Go(ctx, func() {})
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
	pool.Wait()
}

func TestInvoke_RecoversPanic(t *testing.T) {
	err := Invoke(context.Background(), func(context.Context, Delivery) error {
		panic("bad message")
	}, Delivery{ID: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad message")

	err = Invoke(context.Background(), func(context.Context, Delivery) error { return nil }, Delivery{})
	assert.NoError(t, err)
}
