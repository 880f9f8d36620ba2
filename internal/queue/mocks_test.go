package queue_test

import (
	"context"
	"sync"

	"jirareporter.app/reporter/internal/queue"
)

// fakeTransport records what channels do to the broker.
type fakeTransport struct {
	mu sync.Mutex

	declared  map[string]bool
	published map[string][]queue.Envelope
	acked     []string
	released  []string
	inbox     map[string][]queue.Delivery

	publishFn func(ctx context.Context, q string, env queue.Envelope) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		declared:  make(map[string]bool),
		published: make(map[string][]queue.Envelope),
		inbox:     make(map[string][]queue.Delivery),
	}
}

func (f *fakeTransport) DeclareQueue(ctx context.Context, q string, consume bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared[q] = consume
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, q string) ([]queue.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.inbox[q]
	f.inbox[q] = nil
	return out, nil
}

func (f *fakeTransport) Ack(ctx context.Context, d queue.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, d.ID)
	return nil
}

func (f *fakeTransport) Release(ctx context.Context, d queue.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, d.ID)
	return nil
}

func (f *fakeTransport) Publish(ctx context.Context, q string, env queue.Envelope) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, q, env); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[q] = append(f.published[q], env)
	return nil
}

func (f *fakeTransport) Ping(ctx context.Context) error {
	return nil
}

func (f *fakeTransport) Close() error {
	return nil
}

func (f *fakeTransport) Published(q string) []queue.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Envelope(nil), f.published[q]...)
}

func (f *fakeTransport) Acked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func (f *fakeTransport) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type ping struct {
	Name  string `json:"name" jsonschema:"minLength=1"`
	Count int64  `json:"count" jsonschema:"minimum=0"`
	Link  string `json:"link" jsonschema:"format=uri"`
}

type shouty struct {
	Text string `json:"text"`
}

func (s *shouty) Normalize() {
	if len(s.Text) > 3 {
		s.Text = s.Text[:3]
	}
}
