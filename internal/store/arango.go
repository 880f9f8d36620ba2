package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	driver "github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/arangodb/shared"

	"jirareporter.app/reporter/common/arangodb"
	"jirareporter.app/reporter/common/id"
	"jirareporter.app/reporter/internal/model"
)

// unsentKey is the single document holding the outbox snapshot.
const unsentKey = "unsent"

// Collections names the three ArangoDB collections.
type Collections struct {
	Configs        string
	Issues         string
	UnsentMessages string
}

func (c Collections) all() []string {
	return []string{c.Configs, c.Issues, c.UnsentMessages}
}

type arangoDatabase struct {
	client      arangodb.Client
	collections Collections
}

// NewArangoDatabase ensures the database and collections exist and returns the stores.
func NewArangoDatabase(ctx context.Context, client arangodb.Client, collections Collections) (Database, error) {
	if err := client.EnsureDatabase(ctx); err != nil {
		return nil, fmt.Errorf("ensure database: %w", err)
	}
	if err := client.EnsureCollections(ctx, collections.all()...); err != nil {
		return nil, fmt.Errorf("ensure collections: %w", err)
	}
	return &arangoDatabase{client: client, collections: collections}, nil
}

func (d *arangoDatabase) Configs() ConfigStore {
	return &arangoConfigStore{client: d.client, collection: d.collections.Configs}
}

func (d *arangoDatabase) Issues() IssueStore {
	return &arangoIssueStore{client: d.client, collection: d.collections.Issues}
}

func (d *arangoDatabase) Unsent() UnsentMessageStore {
	return &arangoUnsentStore{client: d.client, collection: d.collections.UnsentMessages}
}

func (d *arangoDatabase) TruncateAll(ctx context.Context) error {
	err := d.client.TruncateCollections(ctx, d.collections.all()...)
	if errors.Is(err, arangodb.ErrDestructiveForbidden) {
		return ErrDestructiveForbidden
	}
	return err
}

func (d *arangoDatabase) Close() error {
	return d.client.Close()
}

// translateArangoError maps driver errors onto the store sentinels.
func translateArangoError(err error) error {
	switch {
	case err == nil:
		return nil
	case shared.IsNotFound(err):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case shared.IsConflict(err):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	default:
		return err
	}
}

// --- Configs ----------------------------------------------------------------

type configDocument struct {
	Key       string  `json:"_key,omitempty"`
	UpdateRev string  `json:"update_rev"`
	URL       string  `json:"url"`
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	Project   string  `json:"project"`
	IssueType string  `json:"issue_type"`
	Priority  *string `json:"priority"`
}

func toConfigDocument(cfg model.IntegrationConfig) configDocument {
	return configDocument{
		Key:       cfg.ID,
		UpdateRev: cfg.UpdateRev,
		URL:       cfg.URL,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Project:   cfg.Project,
		IssueType: cfg.IssueType,
		Priority:  cfg.Priority,
	}
}

func (d configDocument) toModel() *model.IntegrationConfig {
	return &model.IntegrationConfig{
		ID:        d.Key,
		UpdateRev: d.UpdateRev,
		URL:       d.URL,
		Username:  d.Username,
		Password:  d.Password,
		Project:   d.Project,
		IssueType: d.IssueType,
		Priority:  d.Priority,
	}
}

type arangoConfigStore struct {
	client     arangodb.Client
	collection string
}

func (s *arangoConfigStore) Get(ctx context.Context, key string) (*model.IntegrationConfig, error) {
	col, err := s.client.Collection(ctx, s.collection)
	if err != nil {
		return nil, err
	}

	var doc configDocument
	meta, err := col.ReadDocument(ctx, key, &doc)
	if err != nil {
		return nil, translateArangoError(err)
	}
	doc.Key = meta.Key
	return doc.toModel(), nil
}

func (s *arangoConfigStore) Insert(ctx context.Context, cfg *model.IntegrationConfig) error {
	col, err := s.client.Collection(ctx, s.collection)
	if err != nil {
		return err
	}

	doc := toConfigDocument(*cfg)
	doc.UpdateRev = id.NewString()

	meta, err := col.CreateDocument(ctx, doc)
	if err != nil {
		return translateArangoError(err)
	}

	cfg.ID = meta.Key
	cfg.UpdateRev = doc.UpdateRev
	return nil
}

func (s *arangoConfigStore) Update(ctx context.Context, cfg *model.IntegrationConfig) (*model.IntegrationConfig, *model.IntegrationConfig, error) {
	col, err := s.client.Collection(ctx, s.collection)
	if err != nil {
		return nil, nil, err
	}

	patch := toConfigDocument(*cfg)
	patch.Key = ""
	patch.UpdateRev = id.NewString()

	var oldDoc, newDoc configDocument
	_, err = col.UpdateDocumentWithOptions(ctx, cfg.ID, patch, &driver.CollectionDocumentUpdateOptions{
		OldObject: &oldDoc,
		NewObject: &newDoc,
	})
	if err != nil {
		return nil, nil, translateArangoError(err)
	}

	oldDoc.Key, newDoc.Key = cfg.ID, cfg.ID
	return oldDoc.toModel(), newDoc.toModel(), nil
}

func (s *arangoConfigStore) Delete(ctx context.Context, key string) error {
	col, err := s.client.Collection(ctx, s.collection)
	if err != nil {
		return err
	}

	if _, err := col.DeleteDocument(ctx, key); err != nil {
		return translateArangoError(err)
	}
	return nil
}

// --- Issues -----------------------------------------------------------------

type issueDocument struct {
	Key     string `json:"_key"`
	IssueID int64  `json:"issue_id"`
}

type arangoIssueStore struct {
	client     arangodb.Client
	collection string
}

func (s *arangoIssueStore) GetIssue(ctx context.Context, crashID string) (int64, error) {
	col, err := s.client.Collection(ctx, s.collection)
	if err != nil {
		return 0, err
	}

	var doc issueDocument
	if _, err := col.ReadDocument(ctx, crashID, &doc); err != nil {
		return 0, translateArangoError(err)
	}
	return doc.IssueID, nil
}

func (s *arangoIssueStore) Insert(ctx context.Context, crashID string, issueID int64) error {
	col, err := s.client.Collection(ctx, s.collection)
	if err != nil {
		return err
	}

	if _, err := col.CreateDocument(ctx, issueDocument{Key: crashID, IssueID: issueID}); err != nil {
		return translateArangoError(err)
	}
	return nil
}

// --- Unsent messages --------------------------------------------------------

type unsentDocument struct {
	Key      string                       `json:"_key"`
	Messages map[string][]json.RawMessage `json:"messages"`
}

type arangoUnsentStore struct {
	client     arangodb.Client
	collection string
}

func (s *arangoUnsentStore) SaveUnsentMessages(ctx context.Context, messages map[string][]json.RawMessage) error {
	col, err := s.client.Collection(ctx, s.collection)
	if err != nil {
		return err
	}

	overwrite := true
	doc := unsentDocument{Key: unsentKey, Messages: messages}
	if _, err := col.CreateDocumentWithOptions(ctx, doc, &driver.CollectionDocumentCreateOptions{
		Overwrite: &overwrite,
	}); err != nil {
		return fmt.Errorf("save unsent messages: %w", translateArangoError(err))
	}
	return nil
}

func (s *arangoUnsentStore) LoadUnsentMessages(ctx context.Context) (map[string][]json.RawMessage, error) {
	col, err := s.client.Collection(ctx, s.collection)
	if err != nil {
		return nil, err
	}

	var doc unsentDocument
	if _, err := col.ReadDocument(ctx, unsentKey, &doc); err != nil {
		err = translateArangoError(err)
		if errors.Is(err, ErrNotFound) {
			return map[string][]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("load unsent messages: %w", err)
	}

	if doc.Messages == nil {
		doc.Messages = map[string][]json.RawMessage{}
	}
	return doc.Messages, nil
}
