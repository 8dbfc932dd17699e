// Package toggl is a Toggl Track API client with built-in sliding-window
// rate limiting. It speaks the v9 API for account lookups and the
// Reports API v3 for yearly CSV exports (one request covers a whole
// year, no pagination).
package toggl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultBaseURL = "https://api.track.toggl.com"
	requestRetries = 3
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *Limiter

	// Cached after first lookup.
	workspaceID int
}

// NewClient builds a client around an API token. An empty token is an
// AuthError up front rather than a guaranteed 401 later.
func NewClient(token string, maxPerHour int) (*Client, error) {
	if token == "" {
		return nil, &AuthError{Reason: "no API token configured"}
	}
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: NewLimiter(maxPerHour),
	}, nil
}

// SetBaseURL overrides the API endpoint, for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// ─── HTTP ────────────────────────────────────────────────────────────────────

// do issues one rate-limited request. A 429 is retried in place after
// honoring Retry-After; each attempt consumes quota because the
// provider counted it.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	op := method + " " + url
	for attempt := 0; attempt < requestRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
		req.SetBasicAuth(c.token, "api_token")
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, &AuthError{Status: resp.StatusCode}

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired:
			wait := retryAfter(resp)
			resp.Body.Close()
			if err := sleepContext(ctx, wait); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			return nil, &TransportError{Op: op, Status: resp.StatusCode}

		case resp.StatusCode >= 400:
			resp.Body.Close()
			return nil, &TransportError{Op: op, Status: resp.StatusCode}
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
		return data, nil
	}
	return nil, &TransportError{Op: op, Status: http.StatusTooManyRequests}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	// 402 quota responses carry their own reset header.
	if v := resp.Header.Get("X-Toggl-Quota-Resets-In"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}

// ─── Account ─────────────────────────────────────────────────────────────────

// WorkspaceID returns the authenticated user's default workspace,
// cached after the first call.
func (c *Client) WorkspaceID(ctx context.Context) (int, error) {
	if c.workspaceID != 0 {
		return c.workspaceID, nil
	}
	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/v9/me", nil)
	if err != nil {
		return 0, err
	}
	var me struct {
		DefaultWorkspaceID int `json:"default_workspace_id"`
	}
	if err := json.Unmarshal(data, &me); err != nil {
		return 0, &FormatError{Reason: fmt.Sprintf("me response: %v", err)}
	}
	if me.DefaultWorkspaceID == 0 {
		return 0, &FormatError{Reason: "me response has no default workspace"}
	}
	c.workspaceID = me.DefaultWorkspaceID
	return c.workspaceID, nil
}

// ─── Export ──────────────────────────────────────────────────────────────────

// ExportYear fetches the detailed CSV export for one calendar year in a
// single request. A year still in progress is exported through today.
func (c *Client) ExportYear(ctx context.Context, year int) ([]byte, error) {
	wid, err := c.WorkspaceID(ctx)
	if err != nil {
		return nil, err
	}

	end := fmt.Sprintf("%d-12-31", year)
	if today := time.Now().UTC(); year >= today.Year() {
		end = today.Format("2006-01-02")
	}
	body, err := json.Marshal(map[string]string{
		"start_date": fmt.Sprintf("%d-01-01", year),
		"end_date":   end,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/reports/api/v3/workspace/%d/search/time_entries.csv", c.baseURL, wid)
	return c.do(ctx, http.MethodPost, url, body)
}
