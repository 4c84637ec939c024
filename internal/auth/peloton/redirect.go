package peloton

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
)

// maxRedirectHops bounds the walk so a misconfigured provider flow cannot
// chain or loop indefinitely.
const maxRedirectHops = 10

// followAuthCode walks the post-login redirect chain looking for the
// authorization code. The client must not follow redirects on its own: the
// code is embedded in a redirect target, never in a final 200 body, so each
// hop's URL and Location header are inspected manually. The resolved request
// URL is authoritative when both it and the Location header carry a code.
func followAuthCode(ctx context.Context, client *http.Client, startURL string) (string, error) {
	currentURL := startURL
	for hop := 0; hop < maxRedirectHops; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
		if err != nil {
			return "", &LoginError{Stage: StageRedirects, Message: "failed to create request", Cause: err}
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", &LoginError{Stage: StageRedirects, Message: "request failed", Cause: err}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close response body: %v", errClose)
		}

		log.WithFields(log.Fields{"stage": StageRedirects, "hops": hop + 1, "status": resp.StatusCode}).
			Debug("inspected redirect hop")

		if code := queryCode(resp.Request.URL); code != "" {
			return code, nil
		}

		location := resp.Header.Get("Location")
		if location == "" {
			// Dead end: neither a code nor a further hop.
			return "", &LoginError{
				Stage:      StageRedirects,
				Message:    "authorization code not obtained",
				StatusCode: resp.StatusCode,
			}
		}

		locURL, err := url.Parse(location)
		if err != nil {
			return "", &LoginError{Stage: StageRedirects, Message: fmt.Sprintf("invalid Location header %q", location), Cause: err}
		}
		if code := queryCode(locURL); code != "" {
			return code, nil
		}

		// Relative locations resolve against the current hop's host.
		currentURL = resp.Request.URL.ResolveReference(locURL).String()
	}

	return "", &LoginError{
		Stage:   StageRedirects,
		Message: fmt.Sprintf("authorization code not obtained after %d redirects", maxRedirectHops),
	}
}

func queryCode(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Query().Get("code")
}
