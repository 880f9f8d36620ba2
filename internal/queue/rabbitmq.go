package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrPublishNacked = errors.New("message was nacked by broker")

type RabbitMQConfig struct {
	URL       string
	Consumer  string        // Consumer tag prefix
	Prefetch  int           // Unacked deliveries the broker hands out per queue
	BatchSize int           // Deliveries returned per Receive
	Block     time.Duration // How long Receive waits for the first delivery
}

// RabbitMQTransport maps channels onto durable classic queues on the default exchange.
type RabbitMQTransport struct {
	conn *amqp.Connection
	cfg  RabbitMQConfig

	pubMu sync.Mutex
	pub   *amqp.Channel
	sub   *amqp.Channel

	mu         sync.Mutex
	deliveries map[string]<-chan amqp.Delivery
}

func NewRabbitMQTransport(cfg RabbitMQConfig) (*RabbitMQTransport, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Prefetch
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening publish channel: %w", err)
	}
	if err := pub.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enabling publisher confirms: %w", err)
	}

	sub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening consume channel: %w", err)
	}
	if err := sub.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("setting prefetch: %w", err)
	}

	return &RabbitMQTransport{
		conn:       conn,
		cfg:        cfg,
		pub:        pub,
		sub:        sub,
		deliveries: make(map[string]<-chan amqp.Delivery),
	}, nil
}

func (t *RabbitMQTransport) DeclareQueue(ctx context.Context, queue string, consume bool) error {
	t.pubMu.Lock()
	_, err := t.pub.QueueDeclare(queue, true, false, false, false, nil)
	t.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", queue, err)
	}

	if !consume {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.deliveries[queue]; ok {
		return nil
	}

	ch, err := t.sub.Consume(queue, t.cfg.Consumer+"-"+queue, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming queue %s: %w", queue, err)
	}
	t.deliveries[queue] = ch

	slog.InfoContext(ctx, "rabbitmq consumer started", "queue", queue)
	return nil
}

// Receive waits for the first delivery for up to the configured block time,
// then takes whatever else is already buffered.
func (t *RabbitMQTransport) Receive(ctx context.Context, queue string) ([]Delivery, error) {
	t.mu.Lock()
	ch, ok := t.deliveries[queue]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("queue %s was not declared for consuming", queue)
	}

	timer := time.NewTimer(t.cfg.Block)
	defer timer.Stop()

	var out []Delivery
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case raw, open := <-ch:
		if !open {
			return nil, fmt.Errorf("rabbitmq delivery channel for %s closed", queue)
		}
		out = t.appendDelivery(ctx, out, queue, raw)
	}

	for len(out) < t.cfg.BatchSize {
		select {
		case raw, open := <-ch:
			if !open {
				return out, nil
			}
			out = t.appendDelivery(ctx, out, queue, raw)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (t *RabbitMQTransport) appendDelivery(ctx context.Context, out []Delivery, queue string, raw amqp.Delivery) []Delivery {
	d, err := parseBody(queue, raw)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse message, dead-lettering",
			"error", err,
			"queue", queue,
			"delivery_tag", raw.DeliveryTag)
	}
	return append(out, d)
}

// parseBody decodes an envelope from a delivery body. A body that does not
// decode, or has no id, yields a malformed delivery carrying the raw body.
func parseBody(queue string, raw amqp.Delivery) (Delivery, error) {
	attempt := deliveryAttempt(raw)

	var env Envelope
	err := json.Unmarshal(raw.Body, &env)
	if err == nil && env.ID == "" {
		err = errors.New("missing id")
	}
	if err == nil {
		return NewDelivery(queue, env, attempt, raw), nil
	}

	err = fmt.Errorf("parsing body of delivery %d: %w", raw.DeliveryTag, err)
	fallback := Envelope{
		ID:      raw.MessageId,
		Name:    raw.Type,
		Payload: json.RawMessage(raw.Body),
	}
	if fallback.ID == "" {
		fallback.ID = strconv.FormatUint(raw.DeliveryTag, 10)
	}
	return NewMalformedDelivery(queue, fallback, attempt, raw, err), err
}

// deliveryAttempt prefers the quorum-queue delivery counter and falls back to
// the redelivered flag.
func deliveryAttempt(raw amqp.Delivery) int {
	switch v := raw.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if raw.Redelivered {
		return 2
	}
	return 1
}

func (t *RabbitMQTransport) Ack(_ context.Context, d Delivery) error {
	raw, ok := d.Handle().(amqp.Delivery)
	if !ok {
		return fmt.Errorf("rabbitmq ack: delivery %s has no amqp handle", d.ID)
	}
	if err := raw.Ack(false); err != nil {
		return fmt.Errorf("ack (queue=%s): %w", d.Queue, err)
	}
	return nil
}

func (t *RabbitMQTransport) Release(_ context.Context, d Delivery) error {
	raw, ok := d.Handle().(amqp.Delivery)
	if !ok {
		return fmt.Errorf("rabbitmq release: delivery %s has no amqp handle", d.ID)
	}
	if err := raw.Nack(false, true); err != nil {
		return fmt.Errorf("nack (queue=%s): %w", d.Queue, err)
	}
	return nil
}

func (t *RabbitMQTransport) Publish(ctx context.Context, queue string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope %s: %w", env.ID, err)
	}

	t.pubMu.Lock()
	confirm, err := t.pub.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Name,
		Timestamp:    time.Now(),
		Body:         body,
	})
	t.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", queue, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for confirm from %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("%w (queue=%s)", ErrPublishNacked, queue)
	}
	return nil
}

func (t *RabbitMQTransport) Ping(context.Context) error {
	if t.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

func (t *RabbitMQTransport) Close() error {
	return t.conn.Close()
}
