// Package redisstream implements the topic/subscription transport on Redis
// Streams. A topic is a stream and a subscription is a consumer group on it.
//
// Messages that must not be delivered yet wait in a per-topic sorted set
// scored by their due time and are appended to the stream once due. Entries
// left pending by a failed or crashed consumer are reclaimed with XAUTOCLAIM
// after ClaimMinIdle.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"event-integrations/internal/infra/transport"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Stream entry fields.
const (
	fieldID           = "id"
	fieldRoutingKey   = "routing_key"
	fieldBody         = "body"
	fieldSubscription = "subscription"
	fieldHeaders      = "headers"
)

const settleTimeout = 5 * time.Second

// Config holds Redis stream settings.
type Config struct {
	// Consumer is this process's consumer name within every group.
	Consumer string

	// Block is how long XREADGROUP waits for new entries.
	Block time.Duration

	// ClaimMinIdle is how long an entry stays pending before another
	// consumer may claim it.
	ClaimMinIdle time.Duration

	// ClaimInterval is how often pending entries are scanned.
	ClaimInterval time.Duration

	// PromoteInterval is how often due delayed messages are moved to the stream.
	PromoteInterval time.Duration

	// MaxLen caps each stream approximately. Zero disables trimming.
	MaxLen int64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Consumer:        defaultConsumerName(),
		Block:           2 * time.Second,
		ClaimMinIdle:    30 * time.Second,
		ClaimInterval:   10 * time.Second,
		PromoteInterval: 500 * time.Millisecond,
		MaxLen:          100000,
	}
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

// Transport implements transport.Transport on Redis Streams.
type Transport struct {
	client redis.UniversalClient
	cfg    Config
}

// New creates a transport. The transport owns client and closes it on Close.
func New(client redis.UniversalClient, cfg Config) *Transport {
	defaults := DefaultConfig()
	if cfg.Consumer == "" {
		cfg.Consumer = defaults.Consumer
	}
	if cfg.Block <= 0 {
		cfg.Block = defaults.Block
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = defaults.ClaimMinIdle
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = defaults.ClaimInterval
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = defaults.PromoteInterval
	}
	return &Transport{client: client, cfg: cfg}
}

// Ping checks the connection.
func (t *Transport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (t *Transport) Close() error {
	return t.client.Close()
}

// Publish appends the envelope to the topic stream, or parks it in the
// delayed set when NotBefore is in the future.
func (t *Transport) Publish(ctx context.Context, target transport.Target, env transport.Envelope) error {
	e := entry{ID: env.ID, RoutingKey: target.RoutingKey, Body: env.Body, Headers: env.Headers}
	if env.NotBefore.After(time.Now()) {
		return t.delay(ctx, target.Topic, e, env.NotBefore)
	}
	return t.append(ctx, target.Topic, e)
}

func (t *Transport) append(ctx context.Context, topic string, e entry) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: e.values(),
	}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}
	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd (stream=%s): %w", topic, err)
	}
	return nil
}

func (t *Transport) delay(ctx context.Context, topic string, e entry, until time.Time) error {
	member, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode delayed entry: %w", err)
	}
	if err := t.client.ZAdd(ctx, delayedKey(topic), redis.Z{
		Score:  float64(until.UnixMilli()),
		Member: string(member),
	}).Err(); err != nil {
		return fmt.Errorf("zadd (key=%s): %w", delayedKey(topic), err)
	}
	return nil
}

// Subscribe consumes sub until ctx is done.
func (t *Transport) Subscribe(ctx context.Context, sub transport.Subscription, h transport.Handler) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if err := t.ensureGroup(ctx, sub); err != nil {
		return err
	}

	pool := transport.NewPool(sub.MaxConcurrent)
	defer pool.Wait()

	slog.InfoContext(ctx, "Redis stream subscription started",
		slog.String("stream", sub.Topic),
		slog.String("group", sub.Name),
		slog.String("consumer", t.cfg.Consumer),
		slog.String("routing_key", sub.RoutingKey))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.runEvery(gctx, t.cfg.PromoteInterval, func() error { return t.promote(gctx, sub.Topic) })
		return nil
	})
	g.Go(func() error {
		t.runEvery(gctx, t.cfg.ClaimInterval, func() error { return t.reclaim(gctx, sub, pool, h) })
		return nil
	})
	g.Go(func() error {
		return t.read(gctx, sub, pool, h)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (t *Transport) ensureGroup(ctx context.Context, sub transport.Subscription) error {
	// Start from "0" so entries written before the group existed are not lost.
	err := t.client.XGroupCreateMkStream(ctx, sub.Topic, sub.Name, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s on %s: %w", sub.Name, sub.Topic, err)
	}
	return nil
}

func (t *Transport) read(ctx context.Context, sub transport.Subscription, pool *transport.Pool, h transport.Handler) error {
	count := int64(sub.Prefetch)
	if count < 1 {
		count = 1
	}

	for ctx.Err() == nil {
		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    sub.Name,
			Consumer: t.cfg.Consumer,
			Streams:  []string{sub.Topic, ">"},
			Count:    count,
			Block:    t.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			slog.WarnContext(ctx, "Reading from stream failed",
				slog.String("stream", sub.Topic),
				slog.String("group", sub.Name),
				slog.Any("error", err))
			if strings.HasPrefix(err.Error(), "NOGROUP") {
				if gerr := t.ensureGroup(ctx, sub); gerr != nil {
					return gerr
				}
			}
			sleep(ctx, t.cfg.Block)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if !t.dispatch(ctx, sub, pool, h, msg, false) {
					return nil
				}
			}
		}
	}
	return nil
}

func (t *Transport) reclaim(ctx context.Context, sub transport.Subscription, pool *transport.Pool, h transport.Handler) error {
	start := "0-0"
	for {
		messages, next, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   sub.Topic,
			Group:    sub.Name,
			Consumer: t.cfg.Consumer,
			MinIdle:  t.cfg.ClaimMinIdle,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			return fmt.Errorf("xautoclaim (stream=%s group=%s): %w", sub.Topic, sub.Name, err)
		}

		if len(messages) > 0 {
			slog.InfoContext(ctx, "Reclaimed stale pending entries",
				slog.String("stream", sub.Topic),
				slog.String("group", sub.Name),
				slog.Int("count", len(messages)))
		}
		for _, msg := range messages {
			if !t.dispatch(ctx, sub, pool, h, msg, true) {
				return nil
			}
		}

		if next == "0-0" || next == "" {
			return nil
		}
		start = next
	}
}

// promote moves due delayed messages onto the stream. ZREM decides which
// process owns a member when several promote the same topic.
func (t *Transport) promote(ctx context.Context, topic string) error {
	key := delayedKey(topic)
	members, err := t.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore (key=%s): %w", key, err)
	}

	for _, member := range members {
		removed, err := t.client.ZRem(ctx, key, member).Result()
		if err != nil {
			return fmt.Errorf("zrem (key=%s): %w", key, err)
		}
		if removed == 0 {
			continue
		}

		var e entry
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			slog.ErrorContext(ctx, "Dropping undecodable delayed entry",
				slog.String("key", key),
				slog.Any("error", err))
			continue
		}
		if err := t.append(ctx, topic, e); err != nil {
			// Put it back so the next cycle retries.
			_ = t.client.ZAdd(ctx, key, redis.Z{Score: float64(time.Now().UnixMilli()), Member: member}).Err()
			return err
		}
	}
	return nil
}

// dispatch hands one stream entry to the pool. It returns false when the
// subscription is stopping.
func (t *Transport) dispatch(ctx context.Context, sub transport.Subscription, pool *transport.Pool, h transport.Handler, msg redis.XMessage, redelivered bool) bool {
	e, err := parseEntry(msg.Values)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to parse stream entry",
			slog.String("stream", sub.Topic),
			slog.String("entry_id", msg.ID),
			slog.Any("error", err))
		t.ack(ctx, sub, msg.ID)
		return true
	}

	if !e.belongsTo(sub) {
		t.ack(ctx, sub, msg.ID)
		return true
	}

	d := transport.Delivery{ID: e.ID, Body: e.Body, Headers: e.Headers, RoutingKey: e.RoutingKey, Redelivered: redelivered}
	err = pool.Go(ctx, func() {
		t.settle(ctx, sub, msg.ID, e, transport.Invoke(ctx, h, d))
	})
	// Not acked; the entry stays pending and is reclaimed later.
	return err == nil
}

func (t *Transport) settle(ctx context.Context, sub transport.Subscription, entryID string, e entry, herr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	action, until := transport.Resolve(herr)
	switch action {
	case transport.ActionAck:
		t.ack(ctx, sub, entryID)
	case transport.ActionDefer:
		e.Subscription = sub.Name
		if err := t.delay(ctx, sub.Topic, e, until); err != nil {
			slog.ErrorContext(ctx, "Failed to defer entry, leaving it pending",
				slog.String("stream", sub.Topic),
				slog.String("entry_id", entryID),
				slog.Any("error", err))
			return
		}
		t.ack(ctx, sub, entryID)
	case transport.ActionNack:
		slog.DebugContext(ctx, "Entry left pending for redelivery",
			slog.String("stream", sub.Topic),
			slog.String("group", sub.Name),
			slog.String("entry_id", entryID),
			slog.Any("error", herr))
	}
}

func (t *Transport) ack(ctx context.Context, sub transport.Subscription, entryID string) {
	if err := t.client.XAck(ctx, sub.Topic, sub.Name, entryID).Err(); err != nil {
		slog.ErrorContext(ctx, "xack failed",
			slog.String("stream", sub.Topic),
			slog.String("group", sub.Name),
			slog.String("entry_id", entryID),
			slog.Any("error", err))
	}
}

func (t *Transport) runEvery(ctx context.Context, interval time.Duration, fn func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "Redis stream maintenance failed", slog.Any("error", err))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func delayedKey(topic string) string {
	return topic + ":delayed"
}

var _ transport.Transport = (*Transport)(nil)
