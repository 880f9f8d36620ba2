package store

import (
	"context"
	"encoding/json"
	"errors"

	"jirareporter.app/reporter/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when an insert-once record is written twice
	ErrAlreadyExists = errors.New("already exists")
	// ErrDestructiveForbidden is returned by TruncateAll outside test environments
	ErrDestructiveForbidden = errors.New("destructive operation forbidden in this environment")
)

// ConfigStore defines the contract for integration config data access.
// Insert and Update assign a fresh UpdateRev.
type ConfigStore interface {
	Get(ctx context.Context, id string) (*model.IntegrationConfig, error)
	Insert(ctx context.Context, cfg *model.IntegrationConfig) error
	// Update replaces every field except ID and returns the pre- and post-images
	// read in the same atomic operation.
	Update(ctx context.Context, cfg *model.IntegrationConfig) (old, new *model.IntegrationConfig, err error)
	Delete(ctx context.Context, id string) error
}

// IssueStore is the crash to Jira issue ledger.
type IssueStore interface {
	GetIssue(ctx context.Context, crashID string) (int64, error)
	Insert(ctx context.Context, crashID string, issueID int64) error
}

// UnsentMessageStore persists the outbox snapshot between runs.
// Messages are kept per channel, oldest first.
type UnsentMessageStore interface {
	SaveUnsentMessages(ctx context.Context, messages map[string][]json.RawMessage) error
	LoadUnsentMessages(ctx context.Context) (map[string][]json.RawMessage, error)
}

// Database bundles the stores of one storage engine.
type Database interface {
	Configs() ConfigStore
	Issues() IssueStore
	Unsent() UnsentMessageStore

	// TruncateAll empties every collection. Refused unless the engine was opened
	// with destructive operations allowed.
	TruncateAll(ctx context.Context) error
	Close() error
}
