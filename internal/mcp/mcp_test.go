package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	mcppkg "github.com/mark3labs/mcp-go/mcp"

	"github.com/tah-allotrope/togglmirror/internal/answer"
	"github.com/tah-allotrope/togglmirror/internal/entry"
	"github.com/tah-allotrope/togglmirror/internal/store"
)

func newMCPTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.DataDir = t.TempDir()

	s, err := store.New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func seedMCPStore(t *testing.T, s *store.Store) {
	t.Helper()
	mk := func(year int, month time.Month, day, hours int, desc, project string, tags ...string) entry.Entry {
		start := time.Date(year, month, day, 9, 0, 0, 0, time.UTC)
		stop := start.Add(time.Duration(hours) * time.Hour)
		dur := hours * 3600
		return entry.Entry{
			ID:              entry.ComputeID(start, stop, desc, project, dur),
			Description:     desc,
			Project:         project,
			Tags:            tags,
			Start:           start,
			Stop:            stop,
			DurationSeconds: dur,
			Year:            year,
		}
	}
	seed := []entry.Entry{
		mk(2024, 3, 15, 2, "Deep work", "Work", "focus"),
		mk(2024, 3, 16, 1, "Run", "Health", "exercise"),
		mk(2023, 3, 15, 1, "Old deep work", "Work", "focus"),
	}
	if _, err := s.InsertMissing(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func callResultText(t *testing.T, res *mcppkg.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("expected non-empty tool result")
	}
	text, ok := mcppkg.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("expected text content")
	}
	return text.Text
}

func callReq(args map[string]any) mcppkg.CallToolRequest {
	return mcppkg.CallToolRequest{Params: mcppkg.CallToolParams{Arguments: args}}
}

func TestNewServerRegistersTools(t *testing.T) {
	s := newMCPTestStore(t)
	srv := NewServer(s, answer.New(s))
	if srv == nil {
		t.Fatalf("expected MCP server instance")
	}
}

func TestHandleSearchFindsEntries(t *testing.T) {
	s := newMCPTestStore(t)
	seedMCPStore(t, s)
	h := handleSearch(s)

	res, err := h(context.Background(), callReq(map[string]any{"query": "deep"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", callResultText(t, res))
	}

	text := callResultText(t, res)
	if !strings.Contains(text, "Found 2 entries") {
		t.Fatalf("unexpected search output: %q", text)
	}
	if !strings.Contains(text, "Deep work") || !strings.Contains(text, "#focus") {
		t.Fatalf("search output missing entry details: %q", text)
	}
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	s := newMCPTestStore(t)
	h := handleSearch(s)

	res, err := h(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected tool error when query is empty")
	}
}

func TestHandleSearchNoMatches(t *testing.T) {
	s := newMCPTestStore(t)
	seedMCPStore(t, s)
	h := handleSearch(s)

	res, err := h(context.Background(), callReq(map[string]any{"query": "nonexistent"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("no-match search returned tool error")
	}
	if !strings.Contains(callResultText(t, res), "No entries found") {
		t.Fatalf("unexpected output: %q", callResultText(t, res))
	}
}

func TestHandleEntriesFilters(t *testing.T) {
	s := newMCPTestStore(t)
	seedMCPStore(t, s)
	h := handleEntries(s)

	// JSON numbers arrive as float64.
	res, err := h(context.Background(), callReq(map[string]any{
		"year":    float64(2024),
		"project": "work",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := callResultText(t, res)
	if !strings.Contains(text, "1 entries, 2.0h total") {
		t.Fatalf("unexpected filter output: %q", text)
	}
	if !strings.Contains(text, "Deep work") {
		t.Fatalf("filter output missing entry: %q", text)
	}
}

func TestHandleEntriesEmptyFilter(t *testing.T) {
	s := newMCPTestStore(t)
	h := handleEntries(s)

	res, err := h(context.Background(), callReq(map[string]any{"year": float64(1999)}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.Contains(callResultText(t, res), "No entries match") {
		t.Fatalf("unexpected output: %q", callResultText(t, res))
	}
}

func TestHandleTopProjects(t *testing.T) {
	s := newMCPTestStore(t)
	seedMCPStore(t, s)
	h := handleTop(s, s.TopProjects, "projects")

	res, err := h(context.Background(), callReq(map[string]any{"year": float64(2024)}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := callResultText(t, res)
	if !strings.Contains(text, "Top projects (2024)") {
		t.Fatalf("unexpected header: %q", text)
	}
	if !strings.Contains(text, "1. Work: 2.0h") {
		t.Fatalf("unexpected ranking: %q", text)
	}
}

func TestHandleTopTagsAllTime(t *testing.T) {
	s := newMCPTestStore(t)
	seedMCPStore(t, s)
	h := handleTop(s, s.TopTags, "tags")

	res, err := h(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := callResultText(t, res)
	if !strings.Contains(text, "Top tags (all time)") {
		t.Fatalf("unexpected header: %q", text)
	}
	if !strings.Contains(text, "focus: 3.0h") {
		t.Fatalf("unexpected ranking: %q", text)
	}
}

func TestHandleStats(t *testing.T) {
	s := newMCPTestStore(t)
	seedMCPStore(t, s)
	h := handleStats(s)

	res, err := h(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := callResultText(t, res)
	if !strings.Contains(text, "Entries: 3") || !strings.Contains(text, "Hours: 4.0") {
		t.Fatalf("unexpected stats output: %q", text)
	}
}

func TestHandleStatsEmptyStore(t *testing.T) {
	s := newMCPTestStore(t)
	h := handleStats(s)

	res, err := h(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.Contains(callResultText(t, res), "store is empty") {
		t.Fatalf("unexpected output: %q", callResultText(t, res))
	}
}

func TestHandleStatsReturnsToolErrorOnFailure(t *testing.T) {
	s := newMCPTestStore(t)
	h := handleStats(s)

	orig := loadMCPStats
	loadMCPStats = func(*store.Store) (*store.Stats, error) {
		return nil, errors.New("boom")
	}
	t.Cleanup(func() { loadMCPStats = orig })

	res, err := h(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected tool error when stats query fails")
	}
}

func TestHandleAsk(t *testing.T) {
	s := newMCPTestStore(t)
	seedMCPStore(t, s)
	h := handleAsk(answer.New(s))

	res, err := h(context.Background(), callReq(map[string]any{"question": "How was 2024?"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", callResultText(t, res))
	}
	if !strings.Contains(callResultText(t, res), "2024 summary") {
		t.Fatalf("unexpected answer: %q", callResultText(t, res))
	}
}

func TestHandleAskRequiresQuestion(t *testing.T) {
	s := newMCPTestStore(t)
	h := handleAsk(answer.New(s))

	res, err := h(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected tool error when question is missing")
	}
}
