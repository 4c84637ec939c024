package peloton

import (
	"errors"
	"fmt"
)

// Login stages, used to label which part of the flow failed.
const (
	StageInitiate  = "initiate"
	StageSubmit    = "submit-credentials"
	StageRedirects = "follow-redirects"
	StageExchange  = "exchange-code"
)

// LoginError represents a fatal failure of one stage of the login flow.
// Logins are never retried; a LoginError aborts the whole command.
type LoginError struct {
	// Stage is the login stage that failed.
	Stage string
	// Message is a human-readable description of the failure.
	Message string
	// StatusCode is the HTTP status associated with the failure, if any.
	StatusCode int
	// Snippet is a truncated portion of the offending response body, if any.
	Snippet string
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns a string representation of the login error.
func (e *LoginError) Error() string {
	msg := fmt.Sprintf("login failed at %s: %s", e.Stage, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Snippet != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Snippet)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *LoginError) Unwrap() error { return e.Cause }

// IsLoginError checks if an error is a login error.
func IsLoginError(err error) bool {
	var loginError *LoginError
	return errors.As(err, &loginError)
}

// snippet truncates a response body for inclusion in error messages.
func snippet(body []byte) string {
	const maxSnippet = 500
	if len(body) > maxSnippet {
		return string(body[:maxSnippet])
	}
	return string(body)
}
