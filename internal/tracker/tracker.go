package tracker

import (
	"context"

	"jirareporter.app/reporter/internal/model"
)

// Gateway talks to the issue tracker of one integration config per call.
type Gateway interface {
	CreateIssue(ctx context.Context, cfg model.IntegrationConfig, summary, description string, labels []string) (int64, error)
	GetDescription(ctx context.Context, cfg model.IntegrationConfig, issueID int64) (string, error)
	UpdateDescription(ctx context.Context, cfg model.IntegrationConfig, issueID int64, description string) error
	DeleteIssue(ctx context.Context, cfg model.IntegrationConfig, issueID int64) error
}
