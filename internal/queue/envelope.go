package queue

import (
	"encoding/json"
	"errors"
)

// ErrConsumeMessage marks a delivery that can never succeed. The channel sends it
// to its dead-letter channel instead of leaving it for redelivery.
var ErrConsumeMessage = errors.New("message can not be consumed")

// Envelope is the unit that travels through a broker queue.
type Envelope struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	TraceID string          `json:"trace_id,omitempty"`
	// Error is set only on dead-lettered copies.
	Error string `json:"error,omitempty"`
}

// Delivery is an envelope received from a queue, plus what the broker needs to settle it.
type Delivery struct {
	Envelope
	Queue   string
	Attempt int

	handle    any
	malformed error
}

// NewDelivery builds a delivery around a broker-specific settlement handle.
func NewDelivery(queue string, env Envelope, attempt int, handle any) Delivery {
	if attempt <= 0 {
		attempt = 1
	}
	return Delivery{Envelope: env, Queue: queue, Attempt: attempt, handle: handle}
}

// NewMalformedDelivery wraps an entry that could not be parsed. Dispatch
// rejects it with ErrConsumeMessage so it is dead-lettered rather than dropped.
// A payload that is not json is carried as a json string.
func NewMalformedDelivery(queue string, env Envelope, attempt int, handle any, cause error) Delivery {
	env.Payload = rawPayload(env.Payload)
	d := NewDelivery(queue, env, attempt, handle)
	d.malformed = cause
	return d
}

// Malformed returns the parse failure of a delivery built by NewMalformedDelivery.
func (d Delivery) Malformed() error {
	return d.malformed
}

func rawPayload(b []byte) json.RawMessage {
	if len(b) > 0 && json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

// Handle returns the broker-specific settlement handle.
func (d Delivery) Handle() any {
	return d.handle
}
