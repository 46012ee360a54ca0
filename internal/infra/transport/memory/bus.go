// Package memory is an in-process transport for tests and local runs.
// Every named subscription gets its own buffered queue.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"event-integrations/internal/infra/transport"
)

// Config holds bus settings.
type Config struct {
	// Buffer is the capacity of each subscription queue.
	Buffer int

	// RedeliveryDelay is how long a nacked delivery waits before it is queued again.
	RedeliveryDelay time.Duration
}

// DefaultConfig returns settings suitable for local runs.
func DefaultConfig() Config {
	return Config{
		Buffer:          256,
		RedeliveryDelay: 100 * time.Millisecond,
	}
}

// Bus implements transport.Transport in memory.
type Bus struct {
	cfg Config

	mu     sync.Mutex
	queues map[queueKey]*queue
	timers map[*time.Timer]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

type queueKey struct {
	topic string
	name  string
}

type queue struct {
	routingKey string
	ch         chan transport.Delivery
}

// NewBus creates an empty bus.
func NewBus(cfg Config) *Bus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = DefaultConfig().RedeliveryDelay
	}
	return &Bus{
		cfg:    cfg,
		queues: make(map[queueKey]*queue),
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
	}
}

// Declare creates the queue for sub so that messages published before the
// first Subscribe call are kept.
func (b *Bus) Declare(sub transport.Subscription) {
	b.declare(sub)
}

func (b *Bus) declare(sub transport.Subscription) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := queueKey{topic: sub.Topic, name: sub.Name}
	q, ok := b.queues[key]
	if !ok {
		q = &queue{routingKey: sub.RoutingKey, ch: make(chan transport.Delivery, b.cfg.Buffer)}
		b.queues[key] = q
	}
	return q
}

// Publish copies the envelope to every matching queue on the topic.
func (b *Bus) Publish(ctx context.Context, target transport.Target, env transport.Envelope) error {
	if b.isClosed() {
		return transport.ErrClosed
	}

	b.mu.Lock()
	var matched []*queue
	for key, q := range b.queues {
		if key.topic == target.Topic && (q.routingKey == "" || q.routingKey == target.RoutingKey) {
			matched = append(matched, q)
		}
	}
	b.mu.Unlock()

	d := transport.Delivery{ID: env.ID, Body: env.Body, Headers: env.Headers, RoutingKey: target.RoutingKey}
	for _, q := range matched {
		if err := b.schedule(ctx, q, d, env.NotBefore); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe consumes sub until ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, sub transport.Subscription, h transport.Handler) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	q := b.declare(sub)
	pool := transport.NewPool(sub.MaxConcurrent)
	defer pool.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return transport.ErrClosed
		case d := <-q.ch:
			err := pool.Go(ctx, func() {
				b.settle(q, d, transport.Invoke(ctx, h, d))
			})
			if err != nil {
				// Shutting down; keep the delivery for the next consumer.
				b.requeue(q, d, b.cfg.RedeliveryDelay)
				return nil
			}
		}
	}
}

func (b *Bus) settle(q *queue, d transport.Delivery, err error) {
	action, until := transport.Resolve(err)
	switch action {
	case transport.ActionAck:
	case transport.ActionDefer:
		b.requeue(q, d, time.Until(until))
	case transport.ActionNack:
		slog.Debug("Delivery nacked",
			slog.String("delivery_id", d.ID),
			slog.Any("error", err))
		b.requeue(q, d, b.cfg.RedeliveryDelay)
	}
}

func (b *Bus) requeue(q *queue, d transport.Delivery, after time.Duration) {
	d.Redelivered = true
	b.after(after, func() { _ = b.enqueue(context.Background(), q, d) })
}

func (b *Bus) schedule(ctx context.Context, q *queue, d transport.Delivery, notBefore time.Time) error {
	if wait := time.Until(notBefore); wait > 0 {
		b.after(wait, func() { _ = b.enqueue(context.Background(), q, d) })
		return nil
	}
	return b.enqueue(ctx, q, d)
}

func (b *Bus) enqueue(ctx context.Context, q *queue, d transport.Delivery) error {
	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return transport.ErrClosed
	}
}

func (b *Bus) after(wait time.Duration, fn func()) {
	if wait < 0 {
		wait = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(wait, func() {
		b.mu.Lock()
		delete(b.timers, timer)
		b.mu.Unlock()
		fn()
	})
	b.timers[timer] = struct{}{}
}

// Pending returns the number of queued deliveries for a subscription.
func (b *Bus) Pending(topic, name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queueKey{topic: topic, name: name}]; ok {
		return len(q.ch)
	}
	return 0
}

// Close stops scheduled redeliveries and unblocks subscribers.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.done)
		for timer := range b.timers {
			timer.Stop()
		}
		b.timers = nil
		b.mu.Unlock()
	})
	return nil
}

func (b *Bus) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

var _ transport.Transport = (*Bus)(nil)
