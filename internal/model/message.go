package model

import "unicode/utf8"

// Message names carried in the envelope.
const (
	MessageUniqueCrash       = "jira-reporter.crashes.unique"
	MessageDuplicateCrash    = "jira-reporter.crashes.duplicate"
	MessageVerifyConfig      = "jira-reporter.internal.verify"
	MessageIntegrationResult = "jira-reporter.integrations.result"
	MessageReportUndelivered = "jira-reporter.reports.undelivered"
)

// Field length limits. Longer values are cut, not rejected.
const (
	MaxLabelLength       = 255
	MaxCrashInfoLength   = 1000
	MaxDescriptionLength = 28000
)

// UniqueCrash announces a crash seen for the first time.
type UniqueCrash struct {
	ConfigID     string `json:"config_id" jsonschema:"minLength=1"`
	CrashID      string `json:"crash_id" jsonschema:"minLength=1"`
	CrashInfo    string `json:"crash_info" jsonschema:"minLength=1"`
	CrashType    string `json:"crash_type" jsonschema:"minLength=1"`
	CrashOutput  string `json:"crash_output" jsonschema:"minLength=1"`
	CrashURL     string `json:"crash_url" jsonschema:"minLength=1,format=uri"`
	ProjectName  string `json:"project_name" jsonschema:"minLength=1"`
	FuzzerName   string `json:"fuzzer_name" jsonschema:"minLength=1"`
	RevisionName string `json:"revision_name" jsonschema:"minLength=1"`
}

// Normalize cuts over-long fields to their limits.
func (m *UniqueCrash) Normalize() {
	m.CrashInfo = Curtail(m.CrashInfo, MaxCrashInfoLength)
	m.CrashType = Curtail(m.CrashType, MaxLabelLength)
	m.CrashOutput = Curtail(m.CrashOutput, MaxDescriptionLength)
	m.ProjectName = Curtail(m.ProjectName, MaxLabelLength)
	m.FuzzerName = Curtail(m.FuzzerName, MaxLabelLength)
	m.RevisionName = Curtail(m.RevisionName, MaxLabelLength)
}

// DuplicateCrash reports the current duplicate count of an already reported crash.
type DuplicateCrash struct {
	ConfigID       string `json:"config_id" jsonschema:"minLength=1"`
	CrashID        string `json:"crash_id" jsonschema:"minLength=1"`
	DuplicateCount int64  `json:"duplicate_count"`
}

// VerifyConfig asks for a live check of a config at a given revision.
type VerifyConfig struct {
	ConfigID  string `json:"config_id" jsonschema:"minLength=1"`
	UpdateRev string `json:"update_rev" jsonschema:"minLength=1"`
}

// IntegrationResult is the outcome of a VerifyConfig. Error is nil on success.
type IntegrationResult struct {
	ConfigID  string  `json:"config_id"`
	UpdateRev string  `json:"update_rev"`
	Error     *string `json:"error"`
}

// ReportUndelivered tells the api gateway a crash report did not reach Jira.
type ReportUndelivered struct {
	ConfigID string `json:"config_id"`
	Error    string `json:"error"`
}

// Curtail cuts s to at most n runes.
func Curtail(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
