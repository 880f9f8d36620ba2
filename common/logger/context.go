package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so a handler only sets config_id/crash_id once
// and every log line below it carries them.
type LogFields struct {
	ConfigID    *string // Integration config ID
	CrashID     *string // Crash ID from the crash pipeline
	IssueID     *int64  // Jira issue ID
	MessageID   *string // Envelope ID
	MessageName *string // Topic name (e.g., "jira-reporter.crashes.unique")
	Channel     *string // Broker queue name
	Component   string  // Component name (OTel semantic convention style, e.g., "reporter.service.reconcile")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.ConfigID != nil {
		result.ConfigID = new.ConfigID
	}
	if new.CrashID != nil {
		result.CrashID = new.CrashID
	}
	if new.IssueID != nil {
		result.IssueID = new.IssueID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.MessageName != nil {
		result.MessageName = new.MessageName
	}
	if new.Channel != nil {
		result.Channel = new.Channel
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{CrashID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like crash output or response bodies.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
