package tracker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTracker is wrapped by every error the gateway returns.
var ErrTracker = errors.New("jira error")

// Error is a tracker failure without a more specific type.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTracker, e.Err}
	}
	return []error{ErrTracker}
}

// AuthError means the credentials were rejected.
type AuthError struct{}

func (e *AuthError) Error() string { return "invalid login or token" }
func (e *AuthError) Unwrap() error { return ErrTracker }

// ValidationError lists the issue fields Jira refused.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "wrong values in fields"
	}
	return "wrong values in fields: " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrTracker }

type NotFoundError struct {
	IssueID int64
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("issue %d not found", e.IssueID) }
func (e *NotFoundError) Unwrap() error { return ErrTracker }

type ServerError struct {
	Status int
}

func (e *ServerError) Error() string { return fmt.Sprintf("jira server error (%d)", e.Status) }
func (e *ServerError) Unwrap() error { return ErrTracker }

// ConnectionError means Jira could not be reached at all.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "can't connect to jira: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() []error { return []error{ErrTracker, e.Err} }

// Transient reports whether err is worth counting against the endpoint's health.
func Transient(err error) bool {
	var connErr *ConnectionError
	var serverErr *ServerError
	return errors.As(err, &connErr) || errors.As(err, &serverErr)
}
