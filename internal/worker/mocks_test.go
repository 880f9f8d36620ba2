package worker_test

import (
	"context"
	"sync"

	"jirareporter.app/reporter/internal/queue"
)

type settlement struct {
	id     string
	result error
}

type mockChannel struct {
	mu      sync.Mutex
	batches [][]queue.Delivery
	settled []settlement

	dispatchFn func(ctx context.Context, d queue.Delivery) error
}

func (m *mockChannel) Name() string {
	return "inbound"
}

func (m *mockChannel) Receive(ctx context.Context) ([]queue.Delivery, error) {
	m.mu.Lock()
	if len(m.batches) > 0 {
		batch := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return batch, nil
	}
	m.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *mockChannel) Dispatch(ctx context.Context, d queue.Delivery) error {
	if m.dispatchFn != nil {
		return m.dispatchFn(ctx, d)
	}
	return nil
}

func (m *mockChannel) Settle(ctx context.Context, d queue.Delivery, result error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled = append(m.settled, settlement{id: d.ID, result: result})
	return nil
}

func (m *mockChannel) Settled() []settlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]settlement(nil), m.settled...)
}
