package dto

import "jirareporter.app/reporter/internal/model"

type IntegrationConfigRequest struct {
	URL       string  `json:"url" binding:"required,url"`
	Username  string  `json:"username" binding:"required"`
	Password  string  `json:"password" binding:"required"`
	Project   string  `json:"project" binding:"required,max=255"`
	IssueType string  `json:"issue_type" binding:"required,max=255"`
	Priority  *string `json:"priority,omitempty" binding:"omitempty,min=1,max=255"`
}

func (r IntegrationConfigRequest) ToModel(id string) *model.IntegrationConfig {
	return &model.IntegrationConfig{
		ID:        id,
		URL:       r.URL,
		Username:  r.Username,
		Password:  r.Password,
		Project:   r.Project,
		IssueType: r.IssueType,
		Priority:  r.Priority,
	}
}

type IntegrationConfigResponse struct {
	ID        string  `json:"id"`
	UpdateRev string  `json:"update_rev"`
	URL       string  `json:"url"`
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	Project   string  `json:"project"`
	IssueType string  `json:"issue_type"`
	Priority  *string `json:"priority"`
}

func ToIntegrationConfigResponse(cfg *model.IntegrationConfig) IntegrationConfigResponse {
	r := cfg.Redacted()
	return IntegrationConfigResponse{
		ID:        r.ID,
		UpdateRev: r.UpdateRev,
		URL:       r.URL,
		Username:  r.Username,
		Password:  r.Password,
		Project:   r.Project,
		IssueType: r.IssueType,
		Priority:  r.Priority,
	}
}

type CreatedResponse struct {
	ID string `json:"id"`
}

// IntegrationConfigSnapshot is a config as shown in an update diff, without identity or revision.
type IntegrationConfigSnapshot struct {
	URL       string  `json:"url"`
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	Project   string  `json:"project"`
	IssueType string  `json:"issue_type"`
	Priority  *string `json:"priority"`
}

type UpdatedResponse struct {
	Old IntegrationConfigSnapshot `json:"old"`
	New IntegrationConfigSnapshot `json:"new"`
}

func ToUpdatedResponse(old, updated *model.IntegrationConfig) UpdatedResponse {
	return UpdatedResponse{Old: toSnapshot(old), New: toSnapshot(updated)}
}

func toSnapshot(cfg *model.IntegrationConfig) IntegrationConfigSnapshot {
	r := cfg.Redacted()
	return IntegrationConfigSnapshot{
		URL:       r.URL,
		Username:  r.Username,
		Password:  r.Password,
		Project:   r.Project,
		IssueType: r.IssueType,
		Priority:  r.Priority,
	}
}
