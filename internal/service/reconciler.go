package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jirareporter.app/reporter/common/logger"
	"jirareporter.app/reporter/internal/model"
	"jirareporter.app/reporter/internal/queue"
	"jirareporter.app/reporter/internal/store"
	"jirareporter.app/reporter/internal/tracker"
)

const errNoIssueForDuplicate = "can't update duplicate count on non created issue"

const recordTimeout = 5 * time.Second

// ReconcileService keeps Jira in step with the crash events of the fuzzing
// pipeline. Tracker failures never escape a handler: they end as outbound
// events. Returned errors are either queue.ErrConsumeMessage (dead-letter),
// storage failures worth a redelivery, or the cancellation of ctx.
type ReconcileService interface {
	HandleUniqueCrash(ctx context.Context, msg model.UniqueCrash) error
	HandleDuplicateCrash(ctx context.Context, msg model.DuplicateCrash) error
	HandleVerifyConfig(ctx context.Context, msg model.VerifyConfig) error
}

type reconcileService struct {
	configs store.ConfigStore
	issues  store.IssueStore
	gateway tracker.Gateway
	reports ReportProducer
	results ResultProducer
	metrics *metrics
}

func NewReconcileService(
	configs store.ConfigStore,
	issues store.IssueStore,
	gateway tracker.Gateway,
	reports ReportProducer,
	results ResultProducer,
) ReconcileService {
	return &reconcileService{
		configs: configs,
		issues:  issues,
		gateway: gateway,
		reports: reports,
		results: results,
		metrics: newMetrics(),
	}
}

// requireConfig loads the config a crash event points at. A missing config
// makes the event unconsumable.
func (s *reconcileService) requireConfig(ctx context.Context, configID string) (*model.IntegrationConfig, error) {
	cfg, err := s.configs.Get(ctx, configID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.ErrorContext(ctx, "integration config not found")
			return nil, fmt.Errorf("%w: config %s not found", queue.ErrConsumeMessage, configID)
		}
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func (s *reconcileService) HandleUniqueCrash(ctx context.Context, msg model.UniqueCrash) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConfigID:  &msg.ConfigID,
		CrashID:   &msg.CrashID,
		Component: "reporter.service.reconcile",
	})

	cfg, err := s.requireConfig(ctx, msg.ConfigID)
	if err != nil {
		return err
	}

	existing, err := s.issues.GetIssue(ctx, msg.CrashID)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "crash already has an issue, skipping", "issue_id", existing)
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("looking up crash issue: %w", err)
	}

	issueID, err := s.gateway.CreateIssue(ctx, *cfg, Summary(msg), Description(msg), Labels(msg))
	if err != nil {
		return s.reportUndelivered(ctx, msg.ConfigID, err)
	}
	s.metrics.issuesCreated.Add(ctx, 1)

	ctx = logger.WithLogFields(ctx, logger.LogFields{IssueID: &issueID})
	slog.InfoContext(ctx, "jira issue created")

	// The issue exists in Jira now, so record it even if shutdown cut the handler off.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.issues.Insert(recordCtx, msg.CrashID, issueID); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Another delivery of the same crash won the race.
			slog.WarnContext(ctx, "crash recorded concurrently, removing extra issue")
			if delErr := s.gateway.DeleteIssue(recordCtx, *cfg, issueID); delErr != nil {
				slog.WarnContext(ctx, "failed to remove extra issue", "error", delErr)
			}
			return nil
		}
		return s.reportUndelivered(ctx, msg.ConfigID, fmt.Errorf("recording issue %d: %w", issueID, err))
	}

	return nil
}

func (s *reconcileService) HandleDuplicateCrash(ctx context.Context, msg model.DuplicateCrash) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConfigID:  &msg.ConfigID,
		CrashID:   &msg.CrashID,
		Component: "reporter.service.reconcile",
	})

	cfg, err := s.requireConfig(ctx, msg.ConfigID)
	if err != nil {
		return err
	}

	issueID, err := s.issues.GetIssue(ctx, msg.CrashID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.reportUndelivered(ctx, msg.ConfigID, errors.New(errNoIssueForDuplicate))
		}
		return fmt.Errorf("looking up crash issue: %w", err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{IssueID: &issueID})

	description, err := s.gateway.GetDescription(ctx, *cfg, issueID)
	if err != nil {
		return s.reportUndelivered(ctx, msg.ConfigID, err)
	}

	updated, ok := ReplaceDuplicates(description, msg.DuplicateCount)
	if !ok {
		return s.reportUndelivered(ctx, msg.ConfigID, errors.New("duplicate counter not found in issue description"))
	}

	if err := s.gateway.UpdateDescription(ctx, *cfg, issueID, updated); err != nil {
		return s.reportUndelivered(ctx, msg.ConfigID, err)
	}
	s.metrics.issuesUpdated.Add(ctx, 1)

	slog.InfoContext(ctx, "duplicate count updated", "duplicate_count", msg.DuplicateCount)
	return nil
}

func (s *reconcileService) HandleVerifyConfig(ctx context.Context, msg model.VerifyConfig) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConfigID:  &msg.ConfigID,
		Component: "reporter.service.verify",
	})

	cfg, err := s.configs.Get(ctx, msg.ConfigID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.DebugContext(ctx, "config deleted before verification, dropping")
			return nil
		}
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.UpdateRev != msg.UpdateRev {
		slog.DebugContext(ctx, "stale verification request, dropping",
			"requested_rev", msg.UpdateRev,
			"current_rev", cfg.UpdateRev)
		return nil
	}

	result := model.IntegrationResult{
		ConfigID:  cfg.ID,
		UpdateRev: cfg.UpdateRev,
	}

	err = s.createTestIssue(ctx, *cfg)
	if abandonErr := abandoned(ctx); abandonErr != nil {
		return abandonErr
	}
	if err != nil {
		text := err.Error()
		result.Error = &text
		slog.InfoContext(ctx, "integration verification failed", "error", err)
	} else {
		slog.InfoContext(ctx, "integration verified")
	}
	s.metrics.verification(ctx, result.Error == nil)

	if err := s.results.Produce(ctx, result); err != nil {
		return fmt.Errorf("producing integration result: %w", err)
	}
	return nil
}

// createTestIssue creates and removes a throwaway issue. Only the creation decides the outcome.
func (s *reconcileService) createTestIssue(ctx context.Context, cfg model.IntegrationConfig) error {
	issueID, err := s.gateway.CreateIssue(ctx, cfg, VerifySummary, VerifySummary, []string{})
	if err != nil {
		return err
	}

	if err := s.gateway.DeleteIssue(ctx, cfg, issueID); err != nil {
		slog.WarnContext(ctx, "failed to remove test issue",
			"error", err,
			"issue_id", issueID)
	}
	return nil
}

func (s *reconcileService) reportUndelivered(ctx context.Context, configID string, cause error) error {
	if err := abandoned(ctx); err != nil {
		return err
	}
	slog.WarnContext(ctx, "crash report undelivered", "error", cause)
	s.metrics.undelivered.Add(ctx, 1)

	if err := s.reports.Produce(ctx, model.ReportUndelivered{
		ConfigID: configID,
		Error:    cause.Error(),
	}); err != nil {
		return fmt.Errorf("producing report undelivered: %w", err)
	}
	return nil
}

// abandoned reports whether the handler was cut off. A Jira failure seen after
// that is the cancellation itself, so it must not turn into a report or result.
func abandoned(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return fmt.Errorf("handler abandoned: %w", context.Cause(ctx))
}
