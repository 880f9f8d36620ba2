package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jirareporter.app/reporter/common/logger"
	"jirareporter.app/reporter/internal/queue"
)

// Worker drains one consuming channel. Deliveries in a batch are handled in
// order, one at a time.
type Worker struct {
	channel Channel

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(channel Channel) *Worker {
	return &Worker{
		channel:   channel,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "reporter.worker",
		Channel:   logger.Ptr(w.channel.Name()),
	})

	// Reads are cut short on stop; handlers keep the parent context.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		select {
		case <-w.stopCh:
			cancelRead()
		case <-readCtx.Done():
		}
	}()

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx, readCtx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-time.After(time.Second):
				case <-w.stopCh:
				case <-ctx.Done():
				}
			}
		}
	}
}

// Stop asks the worker to stop reading and waits for the in-flight delivery
// until ctx expires. An abandoned delivery stays unacknowledged.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })

	select {
	case <-w.stoppedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %s did not stop in time: %w", w.channel.Name(), ctx.Err())
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) processOneBatch(ctx, readCtx context.Context) error {
	deliveries, err := w.channel.Receive(readCtx)
	if err != nil {
		if readCtx.Err() != nil {
			return nil
		}
		return fmt.Errorf("receiving from channel: %w", err)
	}

	for _, d := range deliveries {
		if w.stopping() {
			slog.InfoContext(ctx, "leaving rest of batch for redelivery",
				"message_id", d.ID)
			return nil
		}
		if err := w.ProcessDelivery(ctx, d); err != nil {
			slog.ErrorContext(ctx, "message settlement failed",
				"error", err,
				"message_id", d.ID,
				"message_name", d.Name)
		}
	}

	return nil
}

func (w *Worker) dispatchSafe(ctx context.Context, d queue.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", d.ID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.channel.Dispatch(ctx, d)
}

// ProcessDelivery runs the consumer for d and settles it. The returned error
// only reports settlement failures. Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessDelivery(ctx context.Context, d queue.Delivery) error {
	sc := logger.StartSpanFromTraceID(ctx, d.TraceID, "worker.process_message")
	defer sc.End()
	ctx = sc.Context()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:   logger.Ptr(d.ID),
		MessageName: logger.Ptr(d.Name),
		Channel:     logger.Ptr(d.Queue),
	})

	slog.InfoContext(ctx, "processing message", "attempt", d.Attempt)

	start := time.Now()
	result := w.dispatchSafe(ctx, d)
	if result != nil {
		sc.RecordError(result)
		slog.WarnContext(ctx, "message processing failed",
			"error", result,
			"attempt", d.Attempt,
			"duration_ms", time.Since(start).Milliseconds())
	} else {
		slog.InfoContext(ctx, "message processed",
			"duration_ms", time.Since(start).Milliseconds())
	}

	if err := w.channel.Settle(ctx, d, result); err != nil {
		return fmt.Errorf("settling message: %w", err)
	}
	return nil
}
