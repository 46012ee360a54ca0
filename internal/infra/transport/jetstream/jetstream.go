// Package jetstream implements the queue-style transport on NATS JetStream.
//
// Every topic is a stream that captures "<topic>" and "<topic>.>". A publish
// to routing key k goes to subject "<topic>.<k>", and every queue is a durable
// pull consumer filtered on the subject of its routing key.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"event-integrations/internal/infra/transport"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Message headers.
const (
	HeaderMessageID = "Integration-Message-Id"
	HeaderNotBefore = "Integration-Not-Before"
)

// Config holds JetStream settings.
type Config struct {
	// AckWait is how long the server waits for an ack before redelivering.
	AckWait time.Duration

	// RedeliveryDelay is the delay applied to a negative ack.
	RedeliveryDelay time.Duration

	// MaxAge bounds how long messages are kept in a stream.
	MaxAge time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AckWait:         30 * time.Second,
		RedeliveryDelay: 5 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
	}
}

// Transport implements transport.Transport on JetStream.
type Transport struct {
	conn *nats.Conn
	js   jetstream.JetStream
	cfg  Config

	mu      sync.Mutex
	streams map[string]jetstream.Stream
}

// New connects to the NATS server at url.
func New(ctx context.Context, url string, cfg Config) (*Transport, error) {
	conn, err := nats.Connect(url,
		nats.Name("event-integrations"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	defaults := DefaultConfig()
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaults.AckWait
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = defaults.RedeliveryDelay
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaults.MaxAge
	}

	return &Transport{
		conn:    conn,
		js:      js,
		cfg:     cfg,
		streams: make(map[string]jetstream.Stream),
	}, nil
}

// Ping reports whether the NATS connection is up.
func (t *Transport) Ping(ctx context.Context) error {
	if !t.conn.IsConnected() {
		return fmt.Errorf("nats connection %s", t.conn.Status())
	}
	return nil
}

// Close drains nothing and closes the connection.
func (t *Transport) Close() error {
	t.conn.Close()
	return nil
}

// Publish sends the envelope to the subject of target.
func (t *Transport) Publish(ctx context.Context, target transport.Target, env transport.Envelope) error {
	if _, err := t.stream(ctx, target.Topic); err != nil {
		return err
	}

	msg := newMsg(target, env)
	if _, err := t.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", msg.Subject, err)
	}
	return nil
}

// Subscribe consumes sub through a durable pull consumer until ctx is done.
func (t *Transport) Subscribe(ctx context.Context, sub transport.Subscription, h transport.Handler) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	stream, err := t.stream(ctx, sub.Topic)
	if err != nil {
		return err
	}

	prefetch := sub.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durableName(sub.Name),
		FilterSubject: filterSubject(sub),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       t.cfg.AckWait,
		MaxAckPending: prefetch + sub.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", sub.Name, err)
	}

	iter, err := consumer.Messages(jetstream.PullMaxMessages(prefetch))
	if err != nil {
		return fmt.Errorf("failed to start consumer %s: %w", sub.Name, err)
	}
	stop := context.AfterFunc(ctx, iter.Stop)
	defer stop()
	defer iter.Stop()

	pool := transport.NewPool(sub.MaxConcurrent)
	defer pool.Wait()

	slog.InfoContext(ctx, "JetStream subscription started",
		slog.String("stream", streamName(sub.Topic)),
		slog.String("consumer", durableName(sub.Name)),
		slog.String("filter", filterSubject(sub)))

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
				return nil
			}
			slog.WarnContext(ctx, "Fetching from consumer failed",
				slog.String("consumer", sub.Name),
				slog.Any("error", err))
			continue
		}

		if t.holdBack(ctx, msg, notBefore(msg.Headers())) {
			continue
		}

		d := delivery(sub.Topic, msg)
		err = pool.Go(ctx, func() {
			t.settle(ctx, msg, d, transport.Invoke(ctx, h, d))
		})
		if err != nil {
			if nerr := msg.Nak(); nerr != nil {
				slog.WarnContext(ctx, "Failed to release delivery on shutdown",
					slog.String("delivery_id", d.ID),
					slog.Any("error", nerr))
			}
			return nil
		}
	}
}

// acker is the part of jetstream.Msg used to settle a delivery.
type acker interface {
	Ack() error
	Nak() error
	NakWithDelay(delay time.Duration) error
}

func (t *Transport) settle(ctx context.Context, msg acker, d transport.Delivery, herr error) {
	action, until := transport.Resolve(herr)

	var err error
	switch action {
	case transport.ActionAck:
		err = msg.Ack()
	case transport.ActionDefer:
		err = msg.NakWithDelay(max(time.Until(until), 0))
	case transport.ActionNack:
		slog.DebugContext(ctx, "Delivery nacked",
			slog.String("delivery_id", d.ID),
			slog.Any("error", herr))
		err = msg.NakWithDelay(t.cfg.RedeliveryDelay)
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to settle delivery",
			slog.String("delivery_id", d.ID),
			slog.String("action", action.String()),
			slog.Any("error", err))
	}
}

// holdBack returns a delivery whose NotBefore is still ahead to the server
// with the remaining delay. It reports whether the delivery was held.
func (t *Transport) holdBack(ctx context.Context, msg acker, until time.Time) bool {
	if !time.Now().Before(until) {
		return false
	}
	if err := msg.NakWithDelay(time.Until(until)); err != nil {
		slog.ErrorContext(ctx, "Failed to hold back delivery",
			slog.Time("not_before", until),
			slog.Any("error", err))
	}
	return true
}

func (t *Transport) stream(ctx context.Context, topic string) (jetstream.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.streams[topic]; ok {
		return s, nil
	}

	s, err := t.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName(topic),
		Subjects: []string{topic, topic + ".>"},
		MaxAge:   t.cfg.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream for %s: %w", topic, err)
	}
	t.streams[topic] = s
	return s, nil
}

func newMsg(target transport.Target, env transport.Envelope) *nats.Msg {
	msg := nats.NewMsg(subject(target.Topic, target.RoutingKey))
	msg.Data = env.Body
	for k, v := range env.Headers {
		msg.Header.Set(k, v)
	}
	msg.Header.Set(HeaderMessageID, env.ID)
	if !env.NotBefore.IsZero() {
		msg.Header.Set(HeaderNotBefore, env.NotBefore.UTC().Format(time.RFC3339Nano))
	}
	return msg
}

func delivery(topic string, msg jetstream.Msg) transport.Delivery {
	d := transport.Delivery{
		ID:         msg.Headers().Get(HeaderMessageID),
		Body:       msg.Data(),
		Headers:    userHeaders(msg.Headers()),
		RoutingKey: routingKey(topic, msg.Subject()),
	}
	if meta, err := msg.Metadata(); err == nil {
		d.Redelivered = meta.NumDelivered > 1
	}
	return d
}

// userHeaders returns the publisher's headers without the transport's own.
func userHeaders(h nats.Header) map[string]string {
	var headers map[string]string
	for k := range h {
		if k == HeaderMessageID || k == HeaderNotBefore {
			continue
		}
		if headers == nil {
			headers = make(map[string]string, len(h))
		}
		headers[k] = h.Get(k)
	}
	return headers
}

func notBefore(h nats.Header) time.Time {
	raw := h.Get(HeaderNotBefore)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func subject(topic, routingKey string) string {
	if routingKey == "" {
		return topic
	}
	return topic + "." + routingKey
}

func routingKey(topic, subj string) string {
	return strings.TrimPrefix(strings.TrimPrefix(subj, topic), ".")
}

func filterSubject(sub transport.Subscription) string {
	if sub.RoutingKey == "" {
		return ""
	}
	return subject(sub.Topic, sub.RoutingKey)
}

// streamName derives a valid stream name from a topic.
func streamName(topic string) string {
	return strings.ToUpper(sanitize(topic))
}

// durableName derives a valid durable consumer name from a queue name.
func durableName(name string) string {
	return sanitize(name)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

var _ transport.Transport = (*Transport)(nil)
