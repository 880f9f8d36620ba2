package service

import (
	"context"
	"fmt"
	"log/slog"

	"jirareporter.app/reporter/internal/model"
	"jirareporter.app/reporter/internal/store"
)

// IntegrationService manages integration configs for the admin API. Every
// write asks for a verification of the new revision.
type IntegrationService interface {
	Get(ctx context.Context, id string) (*model.IntegrationConfig, error)
	Create(ctx context.Context, cfg *model.IntegrationConfig) (*model.IntegrationConfig, error)
	Update(ctx context.Context, cfg *model.IntegrationConfig) (old, new *model.IntegrationConfig, err error)
	Delete(ctx context.Context, id string) error
}

type integrationService struct {
	configs store.ConfigStore
	verify  VerifyProducer
}

func NewIntegrationService(configs store.ConfigStore, verify VerifyProducer) IntegrationService {
	return &integrationService{configs: configs, verify: verify}
}

func (s *integrationService) Get(ctx context.Context, id string) (*model.IntegrationConfig, error) {
	cfg, err := s.configs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting integration config: %w", err)
	}
	return cfg, nil
}

func (s *integrationService) Create(ctx context.Context, cfg *model.IntegrationConfig) (*model.IntegrationConfig, error) {
	if err := s.configs.Insert(ctx, cfg); err != nil {
		return nil, fmt.Errorf("creating integration config: %w", err)
	}

	if err := s.requestVerification(ctx, cfg); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "integration config created", "config_id", cfg.ID)
	return cfg, nil
}

func (s *integrationService) Update(ctx context.Context, cfg *model.IntegrationConfig) (*model.IntegrationConfig, *model.IntegrationConfig, error) {
	old, updated, err := s.configs.Update(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("updating integration config: %w", err)
	}

	if err := s.requestVerification(ctx, updated); err != nil {
		return nil, nil, err
	}

	slog.InfoContext(ctx, "integration config updated",
		"config_id", updated.ID,
		"update_rev", updated.UpdateRev)
	return old, updated, nil
}

func (s *integrationService) Delete(ctx context.Context, id string) error {
	if err := s.configs.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting integration config: %w", err)
	}

	slog.InfoContext(ctx, "integration config deleted", "config_id", id)
	return nil
}

func (s *integrationService) requestVerification(ctx context.Context, cfg *model.IntegrationConfig) error {
	if err := s.verify.Produce(ctx, model.VerifyConfig{
		ConfigID:  cfg.ID,
		UpdateRev: cfg.UpdateRev,
	}); err != nil {
		return fmt.Errorf("requesting verification: %w", err)
	}
	return nil
}
