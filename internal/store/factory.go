package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"jirareporter.app/reporter/common/arangodb"
	"jirareporter.app/reporter/core/config"
	"jirareporter.app/reporter/core/db"
)

// Open connects to the configured storage engine, retrying while it comes up.
func Open(ctx context.Context, cfg config.Config) (Database, error) {
	b := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxElapsedTime(30*time.Second),
	), ctx)

	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "storage not ready, retrying",
			"engine", cfg.Storage.Engine,
			"error", err,
			"retry_in", wait)
	}

	switch cfg.Storage.Engine {
	case config.StorageArangoDB:
		return backoff.RetryNotifyWithData(func() (Database, error) {
			return openArango(ctx, cfg)
		}, b, notify)
	case config.StoragePostgres:
		return backoff.RetryNotifyWithData(func() (Database, error) {
			return openPostgres(ctx, cfg)
		}, b, notify)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

func openArango(ctx context.Context, cfg config.Config) (Database, error) {
	client, err := arangodb.New(ctx, arangodb.Config{
		URL:              cfg.ArangoDB.URL,
		Username:         cfg.ArangoDB.Username,
		Password:         cfg.ArangoDB.Password,
		Database:         cfg.ArangoDB.Database,
		AllowDestructive: cfg.AllowDestructive(),
	})
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	stores, err := NewArangoDatabase(ctx, client, Collections{
		Configs:        cfg.Storage.ConfigsCollection,
		Issues:         cfg.Storage.IssuesCollection,
		UnsentMessages: cfg.Storage.UnsentMessagesCollection,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return stores, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (Database, error) {
	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}

	stores, err := NewPostgresDatabase(ctx, database, cfg.AllowDestructive())
	if err != nil {
		database.Close()
		return nil, err
	}
	return stores, nil
}
