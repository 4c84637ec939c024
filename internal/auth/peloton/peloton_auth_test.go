package peloton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pedal-for-me/peloton-cli/internal/config"
)

func testProvider(baseURL string) Provider {
	p := DefaultProvider()
	p.AuthBaseURL = baseURL
	p.CookieDomainSuffix = "127.0.0.1"
	return p
}

func testAuth(baseURL string) *PelotonAuth {
	return &PelotonAuth{provider: testProvider(baseURL), cfg: config.DefaultConfig()}
}

func testCreds() config.Credentials {
	return config.Credentials{Username: "rider@example.com", Password: "hunter2"}
}

// fakeProvider wires up the happy-path identity provider: authorize sets the
// CSRF cookie and echoes state, credential submission redirects into a chain
// that ends in an authorization code, and the token endpoint returns a token.
func fakeProvider(t *testing.T, loginHandler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "_csrf", Value: "csrf-value", Path: "/"})
		http.Redirect(w, r, "/login/index?state=echoed-state", http.StatusFound)
	})
	mux.HandleFunc("/login/index", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html><body>login page</body></html>")
	})
	mux.HandleFunc("/usernamepassword/login", loginHandler)
	mux.HandleFunc("/authorize/resume", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", server.URL+"/callback?code=XYZ&state=echoed-state")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("token payload not JSON: %v", err)
		}
		if payload["grant_type"] != "authorization_code" {
			t.Errorf("unexpected grant_type %q", payload["grant_type"])
		}
		if payload["code"] != "XYZ" {
			t.Errorf("unexpected code %q", payload["code"])
		}
		if len(payload["code_verifier"]) != 64 {
			t.Errorf("expected 64-char verifier, got %q", payload["code_verifier"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token": "T", "token_type": "Bearer"}`)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestLoginWithRedirectResponse(t *testing.T) {
	server := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("login payload not JSON: %v", err)
		}
		if payload["username"] != "rider@example.com" || payload["password"] != "hunter2" {
			t.Errorf("credentials not forwarded: %#v", payload)
		}
		if payload["_csrf"] != "csrf-value" {
			t.Errorf("CSRF token not forwarded, got %q", payload["_csrf"])
		}
		if payload["state"] != "echoed-state" {
			t.Errorf("expected provider-echoed state, got %q", payload["state"])
		}
		if payload["tenant"] != "peloton-prod" || payload["connection"] != "pelo-user-password" {
			t.Errorf("tenant constants missing: %#v", payload)
		}
		w.Header().Set("Location", "/authorize/resume")
		w.WriteHeader(http.StatusFound)
	})

	session, err := testAuth(server.URL).Login(context.Background(), testCreds())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.AccessToken != "T" {
		t.Fatalf("expected bearer token T, got %q", session.AccessToken)
	}
	if session.Client == nil || session.Client.Jar == nil {
		t.Fatal("session must carry the login cookie jar")
	}
}

func TestLoginWithHiddenFormResponse(t *testing.T) {
	formSubmitted := false
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "_csrf", Value: "csrf-value", Path: "/"})
		http.Redirect(w, r, "/login/index?state=echoed-state", http.StatusFound)
	})
	mux.HandleFunc("/login/index", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>login</html>")
	})
	mux.HandleFunc("/usernamepassword/login", func(w http.ResponseWriter, r *http.Request) {
		page := `<html><body><form method="post" action="/login/callback">
			<input type="hidden" name="wa" value="wsignin1.0">
			<input type="hidden" name="wresult" value="rst">
		</form></body></html>`
		_, _ = io.WriteString(w, page)
	})
	mux.HandleFunc("/login/callback", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("callback form unparsable: %v", err)
		}
		if r.PostFormValue("wa") != "wsignin1.0" || r.PostFormValue("wresult") != "rst" {
			t.Errorf("hidden fields not replayed: %#v", r.PostForm)
		}
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
			t.Errorf("expected browser user agent, got %q", ua)
		}
		formSubmitted = true
		w.Header().Set("Location", "/authorize/resume")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/authorize/resume", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srv.URL+"/callback?code=XYZ")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token": "T"}`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	session, err := testAuth(srv.URL).Login(context.Background(), testCreds())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !formSubmitted {
		t.Fatal("hidden form was never replayed")
	}
	if session.AccessToken != "T" {
		t.Fatalf("expected bearer token T, got %q", session.AccessToken)
	}
}

func TestLoginFailsWithoutCSRFCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		// No cookie set.
		_, _ = io.WriteString(w, "<html>login</html>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	_, err := testAuth(server.URL).Login(context.Background(), testCreds())
	var loginErr *LoginError
	if !errors.As(err, &loginErr) {
		t.Fatalf("expected LoginError, got %v", err)
	}
	if loginErr.Stage != StageInitiate {
		t.Fatalf("expected initiate-stage failure, got %q", loginErr.Stage)
	}
	if !strings.Contains(loginErr.Message, "CSRF token not found") {
		t.Fatalf("unexpected message %q", loginErr.Message)
	}
}

func TestLoginRejectedStatusSurfacesSnippet(t *testing.T) {
	server := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": "invalid_user_password"}`)
	})

	_, err := testAuth(server.URL).Login(context.Background(), testCreds())
	var loginErr *LoginError
	if !errors.As(err, &loginErr) {
		t.Fatalf("expected LoginError, got %v", err)
	}
	if loginErr.Stage != StageSubmit || loginErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected failure shape: %+v", loginErr)
	}
	if !strings.Contains(loginErr.Snippet, "invalid_user_password") {
		t.Fatalf("expected body snippet in error, got %q", loginErr.Snippet)
	}
}

func TestLoginFailsWhenFormActionMissing(t *testing.T) {
	server := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html><body>nothing to submit</body></html>")
	})

	_, err := testAuth(server.URL).Login(context.Background(), testCreds())
	if err == nil || !strings.Contains(err.Error(), "no form action found") {
		t.Fatalf("expected missing-form-action error, got %v", err)
	}
}

func TestLoginFailsWhenTokenMissing(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "_csrf", Value: "csrf-value", Path: "/"})
		_, _ = io.WriteString(w, "<html>login</html>")
	})
	mux.HandleFunc("/usernamepassword/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srv.URL+"/callback?code=XYZ")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, fmt.Sprintf(`{"token_type": %q}`, "Bearer"))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	_, err := testAuth(srv.URL).Login(context.Background(), testCreds())
	if err == nil || !strings.Contains(err.Error(), "no access token in token response") {
		t.Fatalf("expected missing-token error, got %v", err)
	}
}
