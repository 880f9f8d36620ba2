package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"jirareporter.app/reporter/common/logger"
)

// ErrMaxDeliveries is recorded on envelopes dead-lettered for failing too often.
var ErrMaxDeliveries = errors.New("max deliveries exceeded")

// App owns the channels declared on one transport.
type App struct {
	transport Transport

	mu        sync.Mutex
	consuming map[string]*ConsumingChannel
	producing map[string]*ProducingChannel
	// orphans holds imported messages for channels not declared in this run.
	orphans map[string][]json.RawMessage

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(transport Transport) *App {
	return &App{
		transport: transport,
		consuming: make(map[string]*ConsumingChannel),
		producing: make(map[string]*ProducingChannel),
		orphans:   make(map[string][]json.RawMessage),
	}
}

// CreateConsumingChannel declares queue for reading.
func (a *App) CreateConsumingChannel(ctx context.Context, queue string) (*ConsumingChannel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ch, ok := a.consuming[queue]; ok {
		return ch, nil
	}

	if err := a.transport.DeclareQueue(ctx, queue, true); err != nil {
		return nil, fmt.Errorf("declaring consuming channel %s: %w", queue, err)
	}

	ch := &ConsumingChannel{
		name:      queue,
		transport: a.transport,
		handlers:  make(map[string]handlerFunc),
	}
	a.consuming[queue] = ch
	return ch, nil
}

// CreateProducingChannel declares queue for writing through an outbox.
func (a *App) CreateProducingChannel(ctx context.Context, queue string) (*ProducingChannel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ch, ok := a.producing[queue]; ok {
		return ch, nil
	}

	if err := a.transport.DeclareQueue(ctx, queue, false); err != nil {
		return nil, fmt.Errorf("declaring producing channel %s: %w", queue, err)
	}

	ch := newProducingChannel(queue, a.transport)
	a.producing[queue] = ch
	return ch, nil
}

// ConsumingChannels returns the consuming channels in no particular order.
func (a *App) ConsumingChannels() []*ConsumingChannel {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*ConsumingChannel, 0, len(a.consuming))
	for _, ch := range a.consuming {
		out = append(out, ch)
	}
	return out
}

// Start launches one outbox flusher per producing channel.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, a.cancel = context.WithCancel(ctx)
	for _, ch := range a.producing {
		a.wg.Add(1)
		go func(ch *ProducingChannel) {
			defer a.wg.Done()
			ch.Run(ctx)
		}(ch)
	}
}

// Stop halts the flushers and waits for them. Unsent messages stay pending.
func (a *App) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
}

// ExportUnsent snapshots every outbox, oldest message first per channel.
func (a *App) ExportUnsent() (map[string][]json.RawMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string][]json.RawMessage, len(a.producing)+len(a.orphans))
	for queue, msgs := range a.orphans {
		out[queue] = append([]json.RawMessage(nil), msgs...)
	}

	for queue, ch := range a.producing {
		envs := ch.Export()
		if len(envs) == 0 {
			continue
		}
		for _, env := range envs {
			raw, err := json.Marshal(env)
			if err != nil {
				return nil, fmt.Errorf("encoding unsent message %s: %w", env.ID, err)
			}
			out[queue] = append(out[queue], raw)
		}
	}

	return out, nil
}

// ImportUnsent puts a snapshot back into the outboxes ahead of anything produced since start.
func (a *App) ImportUnsent(snapshot map[string][]json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for queue, msgs := range snapshot {
		if len(msgs) == 0 {
			continue
		}

		ch, ok := a.producing[queue]
		if !ok {
			slog.Warn("unsent messages for undeclared channel kept aside",
				"channel", queue,
				"count", len(msgs))
			a.orphans[queue] = append(a.orphans[queue], msgs...)
			continue
		}

		envs := make([]Envelope, 0, len(msgs))
		for _, raw := range msgs {
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("decoding unsent message for %s: %w", queue, err)
			}
			envs = append(envs, env)
		}
		ch.Import(envs)
	}

	return nil
}

// Ping checks the broker connection.
func (a *App) Ping(ctx context.Context) error {
	return a.transport.Ping(ctx)
}

// Close releases the transport.
func (a *App) Close() error {
	return a.transport.Close()
}

type handlerFunc func(ctx context.Context, payload json.RawMessage) error

// normalizer is implemented by messages that cut over-long fields after decoding.
type normalizer interface {
	Normalize()
}

// ConsumingChannel routes deliveries of one queue to consumers by message name.
type ConsumingChannel struct {
	name          string
	transport     Transport
	handlers      map[string]handlerFunc
	deadLetter    *ProducingChannel
	maxDeliveries int
}

func (c *ConsumingChannel) Name() string {
	return c.name
}

// UseDeadLetter sends non-consumable deliveries to p.
func (c *ConsumingChannel) UseDeadLetter(p *ProducingChannel) {
	c.deadLetter = p
}

// UseMaxDeliveries dead-letters a delivery that fails on its n-th attempt. Zero disables the limit.
func (c *ConsumingChannel) UseMaxDeliveries(n int) {
	c.maxDeliveries = n
}

// AddConsumer registers fn for message name on ch. Payloads are schema-checked
// and decoded into T before fn runs.
func AddConsumer[T any](ch *ConsumingChannel, name string, fn func(ctx context.Context, msg T) error) error {
	var zero T
	schema, err := SchemaFor(name, zero)
	if err != nil {
		return err
	}

	ch.handlers[name] = func(ctx context.Context, payload json.RawMessage) error {
		if err := schema.Validate(payload); err != nil {
			return err
		}

		var msg T
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: decoding %s: %w", ErrConsumeMessage, name, err)
		}
		if n, ok := any(&msg).(normalizer); ok {
			n.Normalize()
		}

		return fn(ctx, msg)
	}
	return nil
}

// Handle dispatches d and settles it with the result. The returned error is
// the settlement failure, if any; consumer errors are absorbed by Settle.
func (c *ConsumingChannel) Handle(ctx context.Context, d Delivery) error {
	return c.Settle(ctx, d, c.Dispatch(ctx, d))
}

// Dispatch runs the consumer registered for d's message name.
func (c *ConsumingChannel) Dispatch(ctx context.Context, d Delivery) error {
	if d.malformed != nil {
		return fmt.Errorf("%w: malformed entry on %s: %w", ErrConsumeMessage, c.name, d.malformed)
	}
	handler, ok := c.handlers[d.Name]
	if !ok {
		return fmt.Errorf("%w: no consumer for %q on %s", ErrConsumeMessage, d.Name, c.name)
	}
	return handler(ctx, d.Payload)
}

// Settle acknowledges, dead-letters or releases d according to the consumer's result.
func (c *ConsumingChannel) Settle(ctx context.Context, d Delivery, result error) error {
	switch {
	case result == nil:
		return c.transport.Ack(ctx, d)
	case errors.Is(result, ErrConsumeMessage):
		return c.DeadLetter(ctx, d, result)
	case ctx.Err() != nil:
		// The consumer was cut off by shutdown; the failure says nothing about the message.
		slog.WarnContext(ctx, "consumer abandoned, leaving message for redelivery",
			"error", result,
			"attempt", d.Attempt)
		return c.transport.Release(context.WithoutCancel(ctx), d)
	case c.maxDeliveries > 0 && d.Attempt >= c.maxDeliveries:
		return c.DeadLetter(ctx, d, fmt.Errorf("%w after %d attempts: %w", ErrMaxDeliveries, d.Attempt, result))
	default:
		slog.WarnContext(ctx, "consumer failed, leaving message for redelivery",
			"error", result,
			"attempt", d.Attempt)
		return c.transport.Release(ctx, d)
	}
}

// DeadLetter copies d to the dead-letter channel and acknowledges it.
func (c *ConsumingChannel) DeadLetter(ctx context.Context, d Delivery, reason error) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Channel: logger.Ptr(c.name)})

	if c.deadLetter == nil {
		slog.ErrorContext(ctx, "dropping message without dead-letter channel",
			"error", reason,
			"message_name", d.Name)
		return c.transport.Ack(ctx, d)
	}

	env := d.Envelope
	env.Error = reason.Error()
	c.deadLetter.enqueue(ctx, env)

	slog.ErrorContext(ctx, "message sent to dead-letter channel",
		"final_error", reason,
		"dlq", c.deadLetter.name)

	return c.transport.Ack(ctx, d)
}

// Receive reads the next batch from the queue.
func (c *ConsumingChannel) Receive(ctx context.Context) ([]Delivery, error) {
	return c.transport.Receive(ctx, c.name)
}
