package model

// IntegrationConfig is one tenant's Jira connection: endpoint, credentials and the
// project the crash issues are filed into.
type IntegrationConfig struct {
	ID        string  `json:"id"`
	UpdateRev string  `json:"update_rev"`
	URL       string  `json:"url"`
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	Project   string  `json:"project"`
	IssueType string  `json:"issue_type"`
	Priority  *string `json:"priority,omitempty"`
}

// Redacted returns a copy safe to hand back over the admin API.
func (c IntegrationConfig) Redacted() IntegrationConfig {
	if c.Password != "" {
		c.Password = RedactedSecret
	}
	return c
}

const RedactedSecret = "**********"
