package service_test

import (
	"context"

	"jirareporter.app/reporter/internal/model"
	"jirareporter.app/reporter/internal/store"
)

type mockConfigStore struct {
	getFn    func(ctx context.Context, id string) (*model.IntegrationConfig, error)
	insertFn func(ctx context.Context, cfg *model.IntegrationConfig) error
	updateFn func(ctx context.Context, cfg *model.IntegrationConfig) (*model.IntegrationConfig, *model.IntegrationConfig, error)
	deleteFn func(ctx context.Context, id string) error
}

func (m *mockConfigStore) Get(ctx context.Context, id string) (*model.IntegrationConfig, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockConfigStore) Insert(ctx context.Context, cfg *model.IntegrationConfig) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, cfg)
	}
	return nil
}

func (m *mockConfigStore) Update(ctx context.Context, cfg *model.IntegrationConfig) (*model.IntegrationConfig, *model.IntegrationConfig, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, cfg)
	}
	return nil, nil, store.ErrNotFound
}

func (m *mockConfigStore) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// mockIssueStore is an in-memory ledger unless a function overrides it.
type mockIssueStore struct {
	entries map[string]int64

	getIssueFn func(ctx context.Context, crashID string) (int64, error)
	insertFn   func(ctx context.Context, crashID string, issueID int64) error
}

func newMockIssueStore() *mockIssueStore {
	return &mockIssueStore{entries: make(map[string]int64)}
}

func (m *mockIssueStore) GetIssue(ctx context.Context, crashID string) (int64, error) {
	if m.getIssueFn != nil {
		return m.getIssueFn(ctx, crashID)
	}
	id, ok := m.entries[crashID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return id, nil
}

func (m *mockIssueStore) Insert(ctx context.Context, crashID string, issueID int64) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, crashID, issueID)
	}
	if _, ok := m.entries[crashID]; ok {
		return store.ErrAlreadyExists
	}
	m.entries[crashID] = issueID
	return nil
}

type createCall struct {
	summary     string
	description string
	labels      []string
}

// mockGateway records calls and serves descriptions from memory.
type mockGateway struct {
	nextID       int64
	descriptions map[int64]string

	creates []createCall
	gets    []int64
	updates []int64
	deletes []int64

	createErr error
	getErr    error
	updateErr error
	deleteErr error
}

func newMockGateway() *mockGateway {
	return &mockGateway{nextID: 100, descriptions: make(map[int64]string)}
}

func (m *mockGateway) calls() int {
	return len(m.creates) + len(m.gets) + len(m.updates) + len(m.deletes)
}

func (m *mockGateway) CreateIssue(ctx context.Context, cfg model.IntegrationConfig, summary, description string, labels []string) (int64, error) {
	m.creates = append(m.creates, createCall{summary: summary, description: description, labels: labels})
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.nextID++
	m.descriptions[m.nextID] = description
	return m.nextID, nil
}

func (m *mockGateway) GetDescription(ctx context.Context, cfg model.IntegrationConfig, issueID int64) (string, error) {
	m.gets = append(m.gets, issueID)
	if m.getErr != nil {
		return "", m.getErr
	}
	return m.descriptions[issueID], nil
}

func (m *mockGateway) UpdateDescription(ctx context.Context, cfg model.IntegrationConfig, issueID int64, description string) error {
	m.updates = append(m.updates, issueID)
	if m.updateErr != nil {
		return m.updateErr
	}
	m.descriptions[issueID] = description
	return nil
}

func (m *mockGateway) DeleteIssue(ctx context.Context, cfg model.IntegrationConfig, issueID int64) error {
	m.deletes = append(m.deletes, issueID)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.descriptions, issueID)
	return nil
}

type mockProducer[T any] struct {
	produced []T
	err      error
}

func (m *mockProducer[T]) Produce(ctx context.Context, msg T) error {
	if m.err != nil {
		return m.err
	}
	m.produced = append(m.produced, msg)
	return nil
}
