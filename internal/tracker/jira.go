package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"jirareporter.app/reporter/internal/model"
)

// JiraGateway calls the Jira REST API v2 with basic auth.
type JiraGateway struct {
	httpClient *http.Client
}

func NewJiraGateway(timeout time.Duration) *JiraGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &JiraGateway{
		httpClient: &http.Client{Timeout: timeout},
	}
}

type nameRef struct {
	Name string `json:"name"`
}

type keyRef struct {
	Key string `json:"key"`
}

type issueFields struct {
	Project     keyRef   `json:"project"`
	IssueType   nameRef  `json:"issuetype"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Priority    *nameRef `json:"priority,omitempty"`
}

func (g *JiraGateway) CreateIssue(ctx context.Context, cfg model.IntegrationConfig, summary, description string, labels []string) (int64, error) {
	if labels == nil {
		labels = []string{}
	}
	fields := issueFields{
		Project:     keyRef{Key: cfg.Project},
		IssueType:   nameRef{Name: cfg.IssueType},
		Summary:     summary,
		Description: description,
		Labels:      labels,
	}
	if cfg.Priority != nil {
		fields.Priority = &nameRef{Name: *cfg.Priority}
	}

	status, body, err := g.doRequest(ctx, cfg, http.MethodPost, issueURL(cfg.URL, 0), map[string]any{"fields": fields})
	if err != nil {
		return 0, err
	}
	if status != http.StatusCreated {
		return 0, statusError(status, body, 0)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return 0, &Error{Message: "parse create response", Err: err}
	}
	id, err := strconv.ParseInt(created.ID, 10, 64)
	if err != nil {
		return 0, &Error{Message: "parse created issue id", Err: err}
	}

	slog.DebugContext(ctx, "jira issue created", "issue_id", id, "project", cfg.Project)
	return id, nil
}

func (g *JiraGateway) GetDescription(ctx context.Context, cfg model.IntegrationConfig, issueID int64) (string, error) {
	status, body, err := g.doRequest(ctx, cfg, http.MethodGet, issueURL(cfg.URL, issueID)+"?fields=description", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", statusError(status, body, issueID)
	}

	var issue struct {
		Fields struct {
			Description *string `json:"description"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(body, &issue); err != nil {
		return "", &Error{Message: "parse issue response", Err: err}
	}
	if issue.Fields.Description == nil {
		return "", nil
	}
	return *issue.Fields.Description, nil
}

func (g *JiraGateway) UpdateDescription(ctx context.Context, cfg model.IntegrationConfig, issueID int64, description string) error {
	payload := map[string]any{"fields": map[string]string{"description": description}}

	status, body, err := g.doRequest(ctx, cfg, http.MethodPut, issueURL(cfg.URL, issueID), payload)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return statusError(status, body, issueID)
	}
	return nil
}

func (g *JiraGateway) DeleteIssue(ctx context.Context, cfg model.IntegrationConfig, issueID int64) error {
	status, body, err := g.doRequest(ctx, cfg, http.MethodDelete, issueURL(cfg.URL, issueID), nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return statusError(status, body, issueID)
	}
	return nil
}

func issueURL(base string, issueID int64) string {
	u := strings.TrimSuffix(base, "/") + "/rest/api/2/issue"
	if issueID != 0 {
		u += "/" + strconv.FormatInt(issueID, 10)
	}
	return u
}

// doRequest executes an authenticated request and returns the status and body.
// Only transport failures are returned as errors.
func (g *JiraGateway) doRequest(ctx context.Context, cfg model.IntegrationConfig, method, apiURL string, payload any) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, &Error{Message: "marshal request", Err: err}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return 0, nil, &Error{Message: "create request", Err: err}
	}

	req.SetBasicAuth(cfg.Username, cfg.Password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, &ConnectionError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &ConnectionError{Err: fmt.Errorf("read response: %w", err)}
	}

	return resp.StatusCode, respBody, nil
}

func statusError(status int, body []byte, issueID int64) error {
	switch {
	case status == http.StatusUnauthorized:
		return &AuthError{}
	case status == http.StatusBadRequest:
		return &ValidationError{Fields: rejectedFields(body)}
	case status == http.StatusForbidden:
		return &Error{Message: "user does not have permission for this operation"}
	case status == http.StatusNotFound:
		return &NotFoundError{IssueID: issueID}
	case status >= 500:
		return &ServerError{Status: status}
	default:
		return &Error{Message: fmt.Sprintf("invalid response code (%d)", status)}
	}
}

// rejectedFields reads the field names out of a Jira 400 body.
func rejectedFields(body []byte) []string {
	var payload struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	fields := make([]string, 0, len(payload.Errors))
	for name := range payload.Errors {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// IsNotFound reports whether err is a missing-issue error.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
