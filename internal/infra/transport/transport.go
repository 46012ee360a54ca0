// Package transport defines the broker boundary used by the dispatch pipeline.
//
// Two styles of broker sit behind the same interfaces. Queue-style brokers
// route by routing key into named durable queues. Topic-style brokers fan a
// topic out to named subscriptions that filter on the routing key. Either way
// a publisher addresses a Target and a subscriber consumes a Subscription.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Target addresses a publish.
type Target struct {
	Topic      string
	RoutingKey string
}

func (t Target) String() string {
	if t.RoutingKey == "" {
		return t.Topic
	}
	return t.Topic + "/" + t.RoutingKey
}

// Subscription names a durable consumer on a topic. An empty RoutingKey
// receives every message published to the topic.
type Subscription struct {
	Topic         string
	Name          string
	RoutingKey    string
	Prefetch      int
	MaxConcurrent int
}

// Validate checks the fields every backend needs.
func (s Subscription) Validate() error {
	if s.Topic == "" {
		return fmt.Errorf("subscription %q: topic is required", s.Name)
	}
	if s.Name == "" {
		return fmt.Errorf("subscription on %q: name is required", s.Topic)
	}
	return nil
}

// Matches reports whether a message published with routingKey belongs to s.
func (s Subscription) Matches(routingKey string) bool {
	return s.RoutingKey == "" || s.RoutingKey == routingKey
}

// Envelope is a message to publish. A zero NotBefore means deliver now.
// Headers carry metadata such as trace context and reach the consumer
// unchanged.
type Envelope struct {
	ID        string
	Body      []byte
	Headers   map[string]string
	NotBefore time.Time
}

// Delivery is a message handed to a Handler.
type Delivery struct {
	ID          string
	Body        []byte
	Headers     map[string]string
	RoutingKey  string
	Redelivered bool
}

// Handler processes one delivery.
//
// Returning nil acknowledges the delivery. Returning a *DeferError acknowledges
// it and schedules it again no earlier than Until. Any other error leaves the
// delivery to be redelivered by the broker.
type Handler func(ctx context.Context, d Delivery) error

// Publisher publishes envelopes.
type Publisher interface {
	Publish(ctx context.Context, target Target, env Envelope) error
}

// Subscriber consumes subscriptions. Subscribe blocks until ctx is done or the
// subscription fails.
type Subscriber interface {
	Subscribe(ctx context.Context, sub Subscription, h Handler) error
}

// Transport is a broker connection.
type Transport interface {
	Publisher
	Subscriber
	Close() error
}

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// DeferError asks the transport to redeliver a message no earlier than Until.
type DeferError struct {
	Until time.Time
}

func (e *DeferError) Error() string {
	return "deferred until " + e.Until.UTC().Format(time.RFC3339)
}

// Defer returns a *DeferError for until.
func Defer(until time.Time) error {
	return &DeferError{Until: until}
}

// Action is what a backend does with a delivery after its handler returns.
type Action int

const (
	ActionAck Action = iota
	ActionDefer
	ActionNack
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionDefer:
		return "defer"
	case ActionNack:
		return "nack"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Resolve maps a handler error to an Action. For ActionDefer it also returns
// the redelivery time.
func Resolve(err error) (Action, time.Time) {
	if err == nil {
		return ActionAck, time.Time{}
	}
	var deferErr *DeferError
	if errors.As(err, &deferErr) {
		return ActionDefer, deferErr.Until
	}
	return ActionNack, time.Time{}
}
