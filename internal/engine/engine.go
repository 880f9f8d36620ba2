package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"jirareporter.app/reporter/internal/queue"
	"jirareporter.app/reporter/internal/store"
	"jirareporter.app/reporter/internal/worker"
)

// snapshotTimeout bounds the final outbox write, which runs after the shutdown
// deadline may already have passed.
const snapshotTimeout = 10 * time.Second

type Option func(*Engine)

// WithRedisReclaimer runs a reclaimer beside every worker. cfg.Stream is set per channel.
func WithRedisReclaimer(client *redis.Client, cfg worker.RedisReclaimerConfig) Option {
	return func(e *Engine) {
		e.redis = client
		e.reclaimCfg = cfg
	}
}

// Engine runs the workers of every consuming channel and carries unsent
// outbound messages across restarts.
type Engine struct {
	app    *queue.App
	unsent store.UnsentMessageStore

	redis      *redis.Client
	reclaimCfg worker.RedisReclaimerConfig

	workers    []*worker.Worker
	reclaimers []*worker.RedisReclaimer
	group      *errgroup.Group
	cancel     context.CancelFunc
	stopOnce   sync.Once
}

func New(app *queue.App, unsent store.UnsentMessageStore, opts ...Option) *Engine {
	e := &Engine{app: app, unsent: unsent}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start replays the previous run's unsent messages, starts the outbox flushers
// and only then starts consuming.
func (e *Engine) Start(ctx context.Context) error {
	snapshot, err := e.unsent.LoadUnsentMessages(ctx)
	if err != nil {
		return fmt.Errorf("loading unsent messages: %w", err)
	}
	if err := e.app.ImportUnsent(snapshot); err != nil {
		return fmt.Errorf("importing unsent messages: %w", err)
	}
	if n := countMessages(snapshot); n > 0 {
		slog.InfoContext(ctx, "replaying unsent messages", "count", n)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	e.app.Start(runCtx)

	e.group, runCtx = errgroup.WithContext(runCtx)
	for _, ch := range e.app.ConsumingChannels() {
		w := worker.New(ch)
		e.workers = append(e.workers, w)
		e.group.Go(func() error {
			if err := w.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("worker %s: %w", ch.Name(), err)
			}
			return nil
		})

		if e.redis != nil {
			cfg := e.reclaimCfg
			cfg.Stream = ch.Name()
			r := worker.NewRedisReclaimer(e.redis, cfg, w.ProcessDelivery)
			e.reclaimers = append(e.reclaimers, r)
			e.group.Go(func() error {
				r.Run(runCtx)
				return nil
			})
		}
	}

	slog.InfoContext(ctx, "engine started",
		"workers", len(e.workers),
		"reclaimers", len(e.reclaimers))
	return nil
}

// Shutdown stops consuming, waits for in-flight handlers until ctx expires,
// then persists whatever the outboxes could not publish.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error

	e.stopOnce.Do(func() {
		errs = append(errs, e.stopConsumers(ctx))

		if e.cancel != nil {
			e.cancel()
		}
		if e.group != nil {
			if err := e.group.Wait(); err != nil {
				errs = append(errs, err)
			}
		}

		e.app.Stop()
		errs = append(errs, e.saveUnsent(ctx))
	})

	return errors.Join(errs...)
}

func (e *Engine) stopConsumers(ctx context.Context) error {
	var g errgroup.Group
	for _, w := range e.workers {
		g.Go(func() error { return w.Stop(ctx) })
	}
	for _, r := range e.reclaimers {
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				r.Stop()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("reclaimer did not stop in time: %w", ctx.Err())
			}
		})
	}

	err := g.Wait()
	if err != nil {
		slog.WarnContext(ctx, "abandoning in-flight messages, they will be redelivered", "error", err)
	}
	return err
}

func (e *Engine) saveUnsent(ctx context.Context) error {
	snapshot, err := e.app.ExportUnsent()
	if err != nil {
		return fmt.Errorf("exporting unsent messages: %w", err)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()

	if err := e.unsent.SaveUnsentMessages(saveCtx, snapshot); err != nil {
		return fmt.Errorf("saving unsent messages: %w", err)
	}

	slog.InfoContext(ctx, "unsent messages saved", "count", countMessages(snapshot))
	return nil
}

func countMessages[T any](snapshot map[string][]T) int {
	n := 0
	for _, msgs := range snapshot {
		n += len(msgs)
	}
	return n
}
