package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"jirareporter.app/reporter/common/logger"
)

type RedisConfig struct {
	Group     string        // Redis consumer group name
	Consumer  string        // Redis consumer name
	BatchSize int64         // Number of messages to read per batch
	Block     time.Duration // How long to block/poll for new messages
}

// RedisTransport maps channels onto Redis Streams. A queue name is a stream key.
type RedisTransport struct {
	client *redis.Client
	cfg    RedisConfig

	mu sync.Mutex
	// backlog tracks, per stream, where this consumer is in replaying its own
	// pending entries. Empty means the backlog is drained.
	backlog map[string]string
}

func NewRedisTransport(client *redis.Client, cfg RedisConfig) *RedisTransport {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &RedisTransport{
		client:  client,
		cfg:     cfg,
		backlog: make(map[string]string),
	}
}

func (t *RedisTransport) Client() *redis.Client {
	return t.client
}

func (t *RedisTransport) Config() RedisConfig {
	return t.cfg
}

func (t *RedisTransport) DeclareQueue(ctx context.Context, queue string, consume bool) error {
	if !consume {
		// XADD creates the stream on first publish.
		return nil
	}

	if err := t.ensureGroup(ctx, queue); err != nil {
		return err
	}

	t.mu.Lock()
	t.backlog[queue] = "0"
	t.mu.Unlock()
	return nil
}

func (t *RedisTransport) ensureGroup(ctx context.Context, stream string) error {
	// Starting from "0" instead of "$" means we don't lose messages published
	// before the group existed.
	err := t.client.XGroupCreateMkStream(ctx, stream, t.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group (stream=%s): %w", stream, err)
	}
	return nil
}

// Receive first replays entries delivered to this consumer before a restart,
// then reads new ones.
func (t *RedisTransport) Receive(ctx context.Context, queue string) ([]Delivery, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "reporter.queue.redis",
		Channel:   logger.Ptr(queue),
	})

	t.mu.Lock()
	cursor := t.backlog[queue]
	t.mu.Unlock()

	if cursor != "" {
		deliveries, last, err := t.read(ctx, queue, cursor, -1)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.backlog[queue] = last
		t.mu.Unlock()

		if len(deliveries) > 0 {
			slog.InfoContext(ctx, "replaying pending messages", "count", len(deliveries))
			return deliveries, nil
		}
	}

	deliveries, _, err := t.read(ctx, queue, ">", t.cfg.Block)
	return deliveries, err
}

// read returns the parsed deliveries and the cursor to continue from. The cursor
// is empty when the read came back empty.
func (t *RedisTransport) read(ctx context.Context, queue, from string, block time.Duration) ([]Delivery, string, error) {
	streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    t.cfg.Group,
		Consumer: t.cfg.Consumer,
		Streams:  []string{queue, from},
		Count:    t.cfg.BatchSize,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("reading from stream %s: %w", queue, err)
	}

	var (
		deliveries []Delivery
		last       string
	)
	// XReadGroup supports multiple streams, but we only read one so this outer loop only runs once.
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			last = msg.ID
			if msg.Values == nil {
				// Pending entry whose data was trimmed from the stream.
				_ = t.client.XAck(ctx, queue, t.cfg.Group, msg.ID).Err()
				continue
			}

			d, parseErr := ParseDelivery(queue, msg, 1)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message, dead-lettering",
					"error", parseErr,
					"raw_message_id", msg.ID)
			}
			deliveries = append(deliveries, d)
		}
	}

	return deliveries, last, nil
}

func (t *RedisTransport) Ack(ctx context.Context, d Delivery) error {
	id, ok := d.Handle().(string)
	if !ok {
		return fmt.Errorf("redis ack: delivery %s has no stream id", d.ID)
	}
	if err := t.client.XAck(ctx, d.Queue, t.cfg.Group, id).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", d.Queue, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", d.Queue)
	return nil
}

// Release leaves the entry pending. The reclaimer redelivers it once it has
// been idle long enough.
func (t *RedisTransport) Release(context.Context, Delivery) error {
	return nil
}

func (t *RedisTransport) Publish(ctx context.Context, queue string, env Envelope) error {
	if err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		Values: envelopeValues(env),
	}).Err(); err != nil {
		return fmt.Errorf("xadd (stream=%s): %w", queue, err)
	}
	return nil
}

func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}

// ParseDelivery turns a stream entry into a delivery settled by its stream id.
// When the entry is malformed the error is returned together with a delivery
// built by NewMalformedDelivery, so the caller can still dead-letter it.
func ParseDelivery(queue string, msg redis.XMessage, attempt int) (Delivery, error) {
	env := Envelope{
		ID:      parseOptionalString(msg.Values, "id"),
		Name:    parseOptionalString(msg.Values, "name"),
		Payload: json.RawMessage(parseOptionalString(msg.Values, "payload")),
		TraceID: parseOptionalString(msg.Values, "trace_id"),
		Error:   parseOptionalString(msg.Values, "error"),
	}

	if err := validateEntry(msg.Values, env); err != nil {
		if env.ID == "" {
			env.ID = msg.ID
		}
		return NewMalformedDelivery(queue, env, attempt, msg.ID, err), err
	}

	return NewDelivery(queue, env, attempt, msg.ID), nil
}

func validateEntry(values map[string]any, env Envelope) error {
	for _, key := range []string{"id", "name", "payload"} {
		if _, err := parseString(values, key); err != nil {
			return err
		}
	}
	if !json.Valid(env.Payload) {
		return fmt.Errorf("payload of %s is not json", env.ID)
	}
	return nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func envelopeValues(env Envelope) map[string]any {
	values := map[string]any{
		"id":      env.ID,
		"name":    env.Name,
		"payload": string(env.Payload),
	}
	if env.TraceID != "" {
		values["trace_id"] = env.TraceID
	}
	if env.Error != "" {
		values["error"] = env.Error
	}
	return values
}
