package peloton

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pedal-for-me/peloton-cli/internal/config"
	"github.com/pedal-for-me/peloton-cli/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Provider holds the fixed OAuth constants of Peloton's Auth0 tenant. These
// are configuration data lifted from Peloton's web app, not logic; Peloton
// can rotate them independently of the flow itself.
type Provider struct {
	// AuthBaseURL is the identity provider origin, e.g. "https://auth.onepeloton.com".
	AuthBaseURL string
	// CookieDomainSuffix scopes the CSRF cookie lookup to the provider's domain suite.
	CookieDomainSuffix string
	// ClientID is the OAuth client identifier of Peloton's web app.
	ClientID string
	// Audience is the API audience requested during authorization.
	Audience string
	// Scope is the OAuth scope string requested during authorization.
	Scope string
	// RedirectURI is the web app's registered OAuth callback.
	RedirectURI string
	// Tenant and Connection identify the Auth0 tenant and user-password connection.
	Tenant     string
	Connection string
	// Auth0Client and Auth0ClientULP are the base64 client fingerprints the
	// hosted login page sends on authorize and login requests respectively.
	Auth0Client    string
	Auth0ClientULP string
}

// DefaultProvider returns the production Peloton Auth0 constants.
func DefaultProvider() Provider {
	return Provider{
		AuthBaseURL:        "https://auth.onepeloton.com",
		CookieDomainSuffix: "onepeloton.com",
		ClientID:           "WVoJxVDdPoFx4RNewvvg6ch2mZ7bwnsM",
		Audience:           "https://api.onepeloton.com/",
		Scope:              "offline_access openid peloton-api.members:default",
		RedirectURI:        "https://members.onepeloton.com/callback",
		Tenant:             "peloton-prod",
		Connection:         "pelo-user-password",
		Auth0Client:        "eyJuYW1lIjoiYXV0aDAtc3BhLWpzIiwidmVyc2lvbiI6IjIuMS4zIn0=",
		Auth0ClientULP:     "eyJuYW1lIjoiYXV0aDAuanMtdWxwIiwidmVyc2lvbiI6IjkuMTQuMyJ9",
	}
}

// csrfCookieName is the anti-forgery cookie the hosted login page sets.
const csrfCookieName = "_csrf"

// browserUserAgent is sent when replaying the hidden callback form, which the
// provider only serves to browser-looking clients.
const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// Session is the outcome of one successful login: an HTTP client whose cookie
// jar carries the provider session, together with the bearer token obtained
// from the token exchange. The two are created together; neither exists
// without the other.
type Session struct {
	// Client follows redirects and shares the login cookie jar.
	Client *http.Client
	// AccessToken is the opaque bearer token. Held in memory only.
	AccessToken string
}

// PelotonAuth drives the four-stage browser-simulation login flow:
// initiate authorize, submit credentials, follow redirects, exchange code.
// Each Login call runs the full flow with fresh PKCE material and a fresh
// cookie jar; nothing is persisted across process invocations.
type PelotonAuth struct {
	provider Provider
	cfg      *config.Config
}

// NewPelotonAuth creates an authenticator against the production provider.
func NewPelotonAuth(cfg *config.Config) *PelotonAuth {
	return &PelotonAuth{provider: DefaultProvider(), cfg: cfg}
}

// Login performs the complete OAuth PKCE flow with the given credentials.
// Any stage failing aborts the flow; there are no retries.
func (a *PelotonAuth) Login(ctx context.Context, creds config.Credentials) (*Session, error) {
	pkce, err := GeneratePKCECodes()
	if err != nil {
		return nil, &LoginError{Stage: StageInitiate, Message: "failed to generate PKCE material", Cause: err}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &LoginError{Stage: StageInitiate, Message: "failed to create cookie jar", Cause: err}
	}

	timeout := time.Duration(a.cfg.LoginTimeoutSeconds) * time.Second
	base := a.newAuthHTTPClient()
	redirectClient := &http.Client{Transport: base.Transport, Jar: jar, Timeout: timeout}
	noRedirectClient := &http.Client{
		Transport: base.Transport,
		Jar:       jar,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	csrfToken, loginState, err := a.initiate(ctx, redirectClient, jar, pkce)
	if err != nil {
		return nil, err
	}

	nextURL, err := a.submitCredentials(ctx, noRedirectClient, creds, csrfToken, loginState, pkce)
	if err != nil {
		return nil, err
	}

	code, err := followAuthCode(ctx, noRedirectClient, nextURL)
	if err != nil {
		return nil, err
	}

	token, err := a.exchangeCode(ctx, redirectClient, code, pkce.CodeVerifier)
	if err != nil {
		return nil, err
	}

	log.WithField("stage", StageExchange).Debug("login flow complete")
	return &Session{Client: redirectClient, AccessToken: token}, nil
}

// newAuthHTTPClient builds the base client for identity-provider traffic,
// optionally using the Firefox-fingerprint TLS transport.
func (a *PelotonAuth) newAuthHTTPClient() *http.Client {
	if a.cfg.BrowserTLS {
		return &http.Client{Transport: newBrowserTransport(a.cfg)}
	}
	return util.SetProxy(a.cfg, &http.Client{})
}

// initiate starts the authorize flow with redirect-following enabled so the
// provider can carry the session through to its hosted login page, then
// harvests the CSRF cookie and the echoed state from the final URL.
func (a *PelotonAuth) initiate(ctx context.Context, client *http.Client, jar http.CookieJar, pkce *PKCECodes) (csrfToken, state string, err error) {
	params := url.Values{
		"client_id":             {a.provider.ClientID},
		"audience":              {a.provider.Audience},
		"scope":                 {a.provider.Scope},
		"response_type":         {"code"},
		"response_mode":         {"query"},
		"redirect_uri":          {a.provider.RedirectURI},
		"state":                 {pkce.State},
		"nonce":                 {pkce.Nonce},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {"S256"},
		"auth0Client":           {a.provider.Auth0Client},
	}
	authorizeURL := fmt.Sprintf("%s/authorize?%s", a.provider.AuthBaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authorizeURL, nil)
	if err != nil {
		return "", "", &LoginError{Stage: StageInitiate, Message: "failed to create authorize request", Cause: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", &LoginError{Stage: StageInitiate, Message: "authorize request failed", Cause: err}
	}
	body, _ := io.ReadAll(resp.Body)
	if errClose := resp.Body.Close(); errClose != nil {
		log.Errorf("failed to close response body: %v", errClose)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", &LoginError{Stage: StageInitiate, Message: "authorize returned unexpected status", StatusCode: resp.StatusCode, Snippet: snippet(body)}
	}

	finalURL := resp.Request.URL
	log.WithFields(log.Fields{"stage": StageInitiate, "status": resp.StatusCode}).Debug("authorize flow landed on login page")

	// Prefer the state echoed by the provider; fall back to our own.
	state = finalURL.Query().Get("state")
	if state == "" {
		state = pkce.State
	}

	csrfToken = a.findCSRFCookie(jar, finalURL)
	if csrfToken == "" {
		return "", "", &LoginError{Stage: StageInitiate, Message: "CSRF token not found in auth flow cookies"}
	}
	return csrfToken, state, nil
}

// findCSRFCookie looks up the CSRF cookie within the provider's domain suite.
// The jar scopes cookies per host, so both the auth origin and the host the
// authorize flow landed on are checked.
func (a *PelotonAuth) findCSRFCookie(jar http.CookieJar, finalURL *url.URL) string {
	candidates := make([]*url.URL, 0, 2)
	if base, err := url.Parse(a.provider.AuthBaseURL); err == nil {
		candidates = append(candidates, base)
	}
	if finalURL != nil {
		candidates = append(candidates, finalURL)
	}
	for _, u := range candidates {
		if !strings.HasSuffix(u.Hostname(), a.provider.CookieDomainSuffix) {
			continue
		}
		for _, cookie := range jar.Cookies(u) {
			if cookie.Name == csrfCookieName {
				return cookie.Value
			}
		}
	}
	return ""
}

// submitCredentials posts the username and password to the provider's login
// endpoint. The response is either a redirect to follow, or an HTML page
// whose hidden form must be replayed to obtain the next URL.
func (a *PelotonAuth) submitCredentials(ctx context.Context, client *http.Client, creds config.Credentials, csrfToken, state string, pkce *PKCECodes) (string, error) {
	payload := map[string]string{
		"client_id":             a.provider.ClientID,
		"redirect_uri":          a.provider.RedirectURI,
		"tenant":                a.provider.Tenant,
		"response_type":         "code",
		"scope":                 a.provider.Scope,
		"audience":              a.provider.Audience,
		"_csrf":                 csrfToken,
		"state":                 state,
		"_intstate":             "deprecated",
		"nonce":                 pkce.Nonce,
		"username":              creds.Username,
		"password":              creds.Password,
		"connection":            a.provider.Connection,
		"code_challenge":        pkce.CodeChallenge,
		"code_challenge_method": "S256",
	}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return "", &LoginError{Stage: StageSubmit, Message: "failed to marshal login payload", Cause: err}
	}

	loginURL := a.provider.AuthBaseURL + "/usernamepassword/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", &LoginError{Stage: StageSubmit, Message: "failed to create login request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Origin", a.provider.AuthBaseURL)
	req.Header.Set("Auth0-Client", a.provider.Auth0ClientULP)

	resp, err := client.Do(req)
	if err != nil {
		return "", &LoginError{Stage: StageSubmit, Message: "login request failed", Cause: err}
	}
	body, _ := io.ReadAll(resp.Body)
	if errClose := resp.Body.Close(); errClose != nil {
		log.Errorf("failed to close response body: %v", errClose)
	}

	log.WithFields(log.Fields{"stage": StageSubmit, "status": resp.StatusCode}).Debug("submitted credentials")

	if isRedirect(resp.StatusCode) {
		location := resp.Header.Get("Location")
		if location == "" {
			return "", &LoginError{Stage: StageSubmit, Message: "redirect response without Location header", StatusCode: resp.StatusCode}
		}
		return a.resolveAgainstAuthBase(location), nil
	}

	if resp.StatusCode != http.StatusOK {
		return "", &LoginError{Stage: StageSubmit, Message: "login rejected", StatusCode: resp.StatusCode, Snippet: snippet(body)}
	}

	form := ExtractHiddenForm(string(body))
	if form.Action == "" {
		return "", &LoginError{Stage: StageSubmit, Message: "no form action found in login response", Snippet: snippet(body)}
	}
	return a.submitHiddenForm(ctx, client, form)
}

// submitHiddenForm replays the provider's hidden callback form, which a
// browser would auto-submit via JavaScript.
func (a *PelotonAuth) submitHiddenForm(ctx context.Context, client *http.Client, form HiddenForm) (string, error) {
	action := a.resolveAgainstAuthBase(form.Action)

	fields := url.Values{}
	for name, value := range form.Fields {
		fields.Set(name, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action, strings.NewReader(fields.Encode()))
	if err != nil {
		return "", &LoginError{Stage: StageSubmit, Message: "failed to create callback form request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", &LoginError{Stage: StageSubmit, Message: "callback form request failed", Cause: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if errClose := resp.Body.Close(); errClose != nil {
		log.Errorf("failed to close response body: %v", errClose)
	}

	if location := resp.Header.Get("Location"); location != "" {
		return a.resolveAgainstAuthBase(location), nil
	}
	return resp.Request.URL.String(), nil
}

// exchangeCode trades the authorization code and PKCE verifier for the bearer
// token at the provider's token endpoint.
func (a *PelotonAuth) exchangeCode(ctx context.Context, client *http.Client, code, codeVerifier string) (string, error) {
	payload := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     a.provider.ClientID,
		"code_verifier": codeVerifier,
		"code":          code,
		"redirect_uri":  a.provider.RedirectURI,
	}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return "", &LoginError{Stage: StageExchange, Message: "failed to marshal token payload", Cause: err}
	}

	tokenURL := a.provider.AuthBaseURL + "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", &LoginError{Stage: StageExchange, Message: "failed to create token request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", &LoginError{Stage: StageExchange, Message: "token request failed", Cause: err}
	}
	body, errRead := io.ReadAll(resp.Body)
	if errClose := resp.Body.Close(); errClose != nil {
		log.Errorf("failed to close response body: %v", errClose)
	}
	if errRead != nil {
		return "", &LoginError{Stage: StageExchange, Message: "failed to read token response", Cause: errRead}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &LoginError{Stage: StageExchange, Message: "token exchange failed", StatusCode: resp.StatusCode, Snippet: snippet(body)}
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	if accessToken == "" {
		return "", &LoginError{Stage: StageExchange, Message: "no access token in token response"}
	}
	return accessToken, nil
}

// resolveAgainstAuthBase turns a relative provider URL into an absolute one.
func (a *PelotonAuth) resolveAgainstAuthBase(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return a.provider.AuthBaseURL + raw
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
