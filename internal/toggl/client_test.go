package toggl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestClient points a client at a stub server and neuters the
// limiter's real sleeps so tests run instantly.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient("test-token", 1000)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.SetBaseURL(srv.URL)
	c.limiter.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient("", 30)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("NewClient(\"\") = %v, want *AuthError", err)
	}
}

func TestWorkspaceIDCached(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v9/me" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		user, pass, _ := r.BasicAuth()
		if user != "test-token" || pass != "api_token" {
			t.Fatalf("basic auth = %s:%s", user, pass)
		}
		calls++
		fmt.Fprint(w, `{"default_workspace_id": 4242}`)
	}))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		wid, err := c.WorkspaceID(ctx)
		if err != nil {
			t.Fatalf("WorkspaceID: %v", err)
		}
		if wid != 4242 {
			t.Fatalf("wid = %d, want 4242", wid)
		}
	}
	if calls != 1 {
		t.Fatalf("me endpoint hit %d times, want 1", calls)
	}
}

func TestWorkspaceIDMissing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))

	_, err := c.WorkspaceID(context.Background())
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("WorkspaceID = %v, want *FormatError", err)
	}
}

func TestExportYear(t *testing.T) {
	const csvBody = "Description,Start date\nwriting,2023-02-01\n"
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v9/me":
			fmt.Fprint(w, `{"default_workspace_id": 7}`)
		case "/reports/api/v3/workspace/7/search/time_entries.csv":
			if r.Method != http.MethodPost {
				t.Fatalf("export method = %s", r.Method)
			}
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"start_date":"2023-01-01"`) {
				t.Fatalf("export body = %s", body)
			}
			if !strings.Contains(string(body), `"end_date":"2023-12-31"`) {
				t.Fatalf("export body = %s", body)
			}
			fmt.Fprint(w, csvBody)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	data, err := c.ExportYear(context.Background(), 2023)
	if err != nil {
		t.Fatalf("ExportYear: %v", err)
	}
	if string(data) != csvBody {
		t.Fatalf("export = %q", data)
	}
}

func TestExportYearCurrentYearEndsToday(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v9/me" {
			fmt.Fprint(w, `{"default_workspace_id": 7}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), fmt.Sprintf(`"end_date":%q`, today)) {
			t.Fatalf("current-year export body = %s", body)
		}
		fmt.Fprint(w, "")
	}))

	if _, err := c.ExportYear(context.Background(), time.Now().UTC().Year()); err != nil {
		t.Fatalf("ExportYear: %v", err)
	}
}

func TestDoAuthFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.WorkspaceID(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if authErr.Status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", authErr.Status)
	}
}

func TestDoRetriesRateLimit(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"default_workspace_id": 9}`)
	}))

	wid, err := c.WorkspaceID(context.Background())
	if err != nil {
		t.Fatalf("WorkspaceID: %v", err)
	}
	if wid != 9 {
		t.Fatalf("wid = %d, want 9", wid)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDoExhaustsRateLimitRetries(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.WorkspaceID(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if terr.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", terr.Status)
	}
}

func TestDoServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.WorkspaceID(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if terr.Status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", terr.Status)
	}
}

func TestRetryAfterHeaders(t *testing.T) {
	mk := func(h http.Header) *http.Response { return &http.Response{Header: h} }

	resp := mk(http.Header{"Retry-After": []string{"30"}})
	if d := retryAfter(resp); d != 30*time.Second {
		t.Fatalf("Retry-After wait = %v", d)
	}
	resp = mk(http.Header{"X-Toggl-Quota-Resets-In": []string{"120"}})
	if d := retryAfter(resp); d != 120*time.Second {
		t.Fatalf("quota wait = %v", d)
	}
	resp = mk(http.Header{})
	if d := retryAfter(resp); d != 5*time.Second {
		t.Fatalf("default wait = %v", d)
	}
}
