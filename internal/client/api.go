// Package client implements the authenticated Peloton API client. It logs in
// lazily on first use and issues bearer-authorized reads against the profile
// and workout endpoints.
package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// APIClient is the read surface every Peloton backend implements. Responses
// are the decoded JSON bodies as returned by the API, untouched except where
// an operation's contract says otherwise.
type APIClient interface {
	// FetchProfile returns the authenticated user's profile.
	FetchProfile(ctx context.Context) (json.RawMessage, error)
	// FetchWorkouts returns one page of the user's workout history, most
	// recent first. The returned body's limit and page fields always echo
	// the requested values.
	FetchWorkouts(ctx context.Context, limit, page int) (json.RawMessage, error)
	// FetchWorkout returns a single workout with its ride and instructor joined.
	FetchWorkout(ctx context.Context, workoutID string) (json.RawMessage, error)
}

// StatusError reports a non-2xx response from a resource endpoint.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}
