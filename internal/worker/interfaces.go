package worker

import (
	"context"

	"jirareporter.app/reporter/internal/queue"
)

// Channel abstracts a consuming channel for testability.
type Channel interface {
	Name() string
	Receive(ctx context.Context) ([]queue.Delivery, error)
	Dispatch(ctx context.Context, d queue.Delivery) error
	Settle(ctx context.Context, d queue.Delivery, result error) error
}

// DeliveryProcessor handles one delivery end to end, settlement included.
type DeliveryProcessor func(ctx context.Context, d queue.Delivery) error
