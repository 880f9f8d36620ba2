package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"jirareporter.app/reporter/core/config"
	"jirareporter.app/reporter/internal/engine"
	"jirareporter.app/reporter/internal/queue"
	"jirareporter.app/reporter/internal/worker"
)

type brokerConn struct {
	transport     queue.Transport
	engineOptions []engine.Option
}

// connectBroker dials the configured broker, retrying while it comes up.
func connectBroker(ctx context.Context, cfg config.BrokerConfig) (*brokerConn, error) {
	b := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxElapsedTime(30*time.Second),
	), ctx)

	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "broker not ready, retrying",
			"broker", cfg.Kind,
			"error", err,
			"retry_in", wait)
	}

	switch cfg.Kind {
	case config.BrokerRedis:
		return backoff.RetryNotifyWithData(func() (*brokerConn, error) {
			return connectRedis(ctx, cfg)
		}, b, notify)
	case config.BrokerRabbitMQ:
		return backoff.RetryNotifyWithData(func() (*brokerConn, error) {
			return connectRabbitMQ(cfg)
		}, b, notify)
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Kind)
	}
}

func connectRedis(ctx context.Context, cfg config.BrokerConfig) (*brokerConn, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parsing redis url: %w", err))
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	transport := queue.NewRedisTransport(client, queue.RedisConfig{
		Group:     cfg.ConsumerGroup,
		Consumer:  cfg.ConsumerName,
		BatchSize: cfg.BatchSize,
		Block:     cfg.Block,
	})

	return &brokerConn{
		transport: transport,
		engineOptions: []engine.Option{
			engine.WithRedisReclaimer(client, worker.RedisReclaimerConfig{
				Group:     cfg.ConsumerGroup,
				Consumer:  cfg.ConsumerName,
				MinIdle:   cfg.ReclaimIdle,
				BatchSize: cfg.BatchSize,
			}),
		},
	}, nil
}

func connectRabbitMQ(cfg config.BrokerConfig) (*brokerConn, error) {
	transport, err := queue.NewRabbitMQTransport(queue.RabbitMQConfig{
		URL:       cfg.URL,
		Consumer:  cfg.ConsumerName,
		Prefetch:  int(cfg.BatchSize),
		BatchSize: int(cfg.BatchSize),
		Block:     cfg.Block,
	})
	if err != nil {
		return nil, err
	}
	return &brokerConn{transport: transport}, nil
}
