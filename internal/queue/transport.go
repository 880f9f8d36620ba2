package queue

import "context"

// Transport is the broker-specific half of a channel. Adapters exist for Redis
// Streams and RabbitMQ.
type Transport interface {
	// DeclareQueue makes sure the queue exists. consume is true for queues this
	// process reads from.
	DeclareQueue(ctx context.Context, queue string, consume bool) error
	// Receive returns the next batch, blocking for at most the adapter's poll interval.
	Receive(ctx context.Context, queue string) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	// Release gives a delivery back to the broker for a later redelivery.
	Release(ctx context.Context, d Delivery) error
	// Publish returns nil only once the broker accepted the envelope.
	Publish(ctx context.Context, queue string, env Envelope) error
	Ping(ctx context.Context) error
	Close() error
}
