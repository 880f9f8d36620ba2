package model

// IssueLedgerEntry maps a crash to the Jira issue created for it.
// Written once, never updated.
type IssueLedgerEntry struct {
	CrashID string `json:"crash_id"`
	IssueID int64  `json:"issue_id"`
}
