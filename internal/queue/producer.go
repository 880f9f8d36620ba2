package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"jirareporter.app/reporter/common/logger"
)

// ProducingChannel buffers outgoing envelopes and publishes them in order.
// An envelope leaves the outbox only after the broker accepted it.
type ProducingChannel struct {
	name      string
	transport Transport

	mu      sync.Mutex
	pending []Envelope
	wake    chan struct{}
}

func newProducingChannel(name string, transport Transport) *ProducingChannel {
	return &ProducingChannel{
		name:      name,
		transport: transport,
		wake:      make(chan struct{}, 1),
	}
}

func (p *ProducingChannel) Name() string {
	return p.name
}

// Pending returns the number of envelopes not yet published.
func (p *ProducingChannel) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *ProducingChannel) enqueue(ctx context.Context, env Envelope) {
	p.mu.Lock()
	p.pending = append(p.pending, env)
	p.mu.Unlock()

	slog.DebugContext(ctx, "message queued for publishing",
		"channel", p.name,
		"message_id", env.ID,
		"message_name", env.Name)
	p.notify()
}

func (p *ProducingChannel) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Export copies the unpublished envelopes, oldest first.
func (p *ProducingChannel) Export() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.pending...)
}

// Import puts envelopes from a previous run ahead of the current backlog.
func (p *ProducingChannel) Import(envs []Envelope) {
	if len(envs) == 0 {
		return
	}

	p.mu.Lock()
	merged := make([]Envelope, 0, len(envs)+len(p.pending))
	merged = append(merged, envs...)
	p.pending = append(merged, p.pending...)
	p.mu.Unlock()

	p.notify()
}

func (p *ProducingChannel) head() (Envelope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return Envelope{}, false
	}
	return p.pending[0], true
}

func (p *ProducingChannel) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, env := range p.pending {
		if env.ID == id {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

// Run publishes the outbox until ctx is done.
func (p *ProducingChannel) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "reporter.queue.outbox",
		Channel:   logger.Ptr(p.name),
	})

	for {
		env, ok := p.head()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
				continue
			}
		}

		if err := p.publish(ctx, env); err != nil {
			slog.InfoContext(ctx, "outbox flusher stopped",
				"pending", p.Pending(),
				"error", err)
			return
		}
		p.remove(env.ID)
	}
}

func (p *ProducingChannel) publish(ctx context.Context, env Envelope) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(10*time.Second),
		backoff.WithMaxElapsedTime(0),
	)

	return backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return p.transport.Publish(ctx, p.name, env)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		slog.WarnContext(ctx, "publish failed, retrying",
			"error", err,
			"message_id", env.ID,
			"retry_in_ms", next.Milliseconds())
	})
}

// Producer writes messages of one type to a producing channel.
type Producer[T any] struct {
	channel *ProducingChannel
	name    string
}

// AddProducer binds message name to ch.
func AddProducer[T any](ch *ProducingChannel, name string) *Producer[T] {
	return &Producer[T]{channel: ch, name: name}
}

// Produce encodes msg and hands it to the outbox. It does not wait for the broker.
func (p *Producer[T]) Produce(ctx context.Context, msg T) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", p.name, err)
	}

	p.channel.enqueue(ctx, Envelope{
		ID:      uuid.NewString(),
		Name:    p.name,
		Payload: payload,
		TraceID: logger.TraceID(ctx),
	})
	return nil
}
