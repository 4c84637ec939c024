package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pedal-for-me/peloton-cli/internal/auth/peloton"
	"github.com/pedal-for-me/peloton-cli/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultBaseURL is the Peloton API host.
const DefaultBaseURL = "https://api.onepeloton.com"

// workoutJoins expands each workout with its ride and instructor records.
const workoutJoins = "ride,ride.instructor"

// Client is the OAuth-backed Peloton API client. The first operation that
// needs authentication triggers the full login flow; the resulting session
// and bearer token then live for the client instance's lifetime. Not safe
// for concurrent use; serialize access externally if needed.
type Client struct {
	cfg     *config.Config
	creds   config.Credentials
	auth    *peloton.PelotonAuth
	baseURL string

	session     *peloton.Session
	fetchClient *http.Client
	userID      string
}

var _ APIClient = (*Client)(nil)

// New creates an unauthenticated client. No network traffic happens until
// the first fetch.
func New(cfg *config.Config, creds config.Credentials) *Client {
	return &Client{
		cfg:     cfg,
		creds:   creds,
		auth:    peloton.NewPelotonAuth(cfg),
		baseURL: DefaultBaseURL,
	}
}

// FetchProfile returns the authenticated user's profile verbatim.
func (c *Client) FetchProfile(ctx context.Context) (json.RawMessage, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	return c.get(ctx, c.baseURL+"/api/me", nil)
}

// FetchWorkouts returns one page of workouts, most recent first. The limit
// and page fields of the response are overwritten with the requested values
// so the echoed pagination always reflects the request.
func (c *Client) FetchWorkouts(ctx context.Context, limit, page int) (json.RawMessage, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be >= 1")
	}
	if page < 0 {
		return nil, fmt.Errorf("page must be >= 0")
	}

	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	userID, err := c.ensureUserID(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"page":    {strconv.Itoa(page)},
		"limit":   {strconv.Itoa(limit)},
		"sort_by": {"-created"},
		"joins":   {workoutJoins},
	}
	body, err := c.get(ctx, fmt.Sprintf("%s/api/user/%s/workouts", c.baseURL, userID), params)
	if err != nil {
		return nil, err
	}

	body, err = sjson.SetBytes(body, "limit", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to set limit on workout page: %w", err)
	}
	body, err = sjson.SetBytes(body, "page", page)
	if err != nil {
		return nil, fmt.Errorf("failed to set page on workout page: %w", err)
	}
	return body, nil
}

// FetchWorkout returns a single workout with ride and instructor joined.
func (c *Client) FetchWorkout(ctx context.Context, workoutID string) (json.RawMessage, error) {
	if workoutID == "" {
		return nil, fmt.Errorf("workout_id must be provided")
	}

	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	params := url.Values{"joins": {workoutJoins}}
	return c.get(ctx, fmt.Sprintf("%s/api/workout/%s", c.baseURL, url.PathEscape(workoutID)), params)
}

// ensureAuthenticated performs the login flow once per client instance.
// The session cookie jar and bearer token come into existence together.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	if c.session != nil {
		return nil
	}

	log.Debug("no session yet, running login flow")
	session, err := c.auth.Login(ctx, c.creds)
	if err != nil {
		return err
	}
	c.session = session
	// Resource calls share the session's jar and transport under the
	// shorter fetch timeout.
	c.fetchClient = &http.Client{
		Transport: session.Client.Transport,
		Jar:       session.Client.Jar,
		Timeout:   time.Duration(c.cfg.FetchTimeoutSeconds) * time.Second,
	}
	return nil
}

// ensureUserID lazily resolves the account id from the profile and caches it.
func (c *Client) ensureUserID(ctx context.Context) (string, error) {
	if c.userID != "" {
		return c.userID, nil
	}
	profile, err := c.FetchProfile(ctx)
	if err != nil {
		return "", err
	}
	userID := gjson.GetBytes(profile, "id").String()
	if userID == "" {
		return "", fmt.Errorf("profile response has no user id")
	}
	c.userID = userID
	return userID, nil
}

// get issues an authorized GET and returns the body, propagating non-2xx
// statuses as StatusError.
func (c *Client) get(ctx context.Context, rawURL string, params url.Values) (json.RawMessage, error) {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.session.AccessToken)

	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	body, errRead := io.ReadAll(resp.Body)
	if errClose := resp.Body.Close(); errClose != nil {
		log.Errorf("failed to close response body: %v", errClose)
	}
	if errRead != nil {
		return nil, fmt.Errorf("failed to read response body: %w", errRead)
	}

	log.WithFields(log.Fields{"status": resp.StatusCode, "url": req.URL.Path}).Debug("fetched resource")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	return body, nil
}
