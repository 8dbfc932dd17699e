// Package mcp implements the Model Context Protocol server for
// togglmirror.
//
// It exposes the store's read API over MCP stdio transport so any agent
// (Claude Code, OpenCode, Cursor, etc.) can query the tracked-time
// history. Every tool is read-only; syncing stays on the CLI.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tah-allotrope/togglmirror/internal/answer"
	"github.com/tah-allotrope/togglmirror/internal/store"
)

var loadMCPStats = func(s *store.Store) (*store.Stats, error) {
	return s.Stats()
}

// serverInstructions is returned in the initialize response so MCP
// clients know when to reach for these tools.
const serverInstructions = `togglmirror holds the user's complete personal time-tracking history ` +
	`(entries with start/stop, description, project, tags), synced locally from ` +
	`Toggl Track. Use these tools to answer questions about how the user spent ` +
	`their time: totals and rankings per year or month, entries on a given date, ` +
	`keyword search, and free-form questions via track_ask. Key tools: ` +
	`track_search, track_top_projects, track_stats, track_ask.`

func NewServer(s *store.Store, engine *answer.Engine) *server.MCPServer {
	srv := server.NewMCPServer(
		"togglmirror",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(serverInstructions),
	)

	registerTools(srv, s, engine)
	return srv
}

func registerTools(srv *server.MCPServer, s *store.Store, engine *answer.Engine) {
	// ─── track_search ────────────────────────────────────────────────────
	srv.AddTool(
		mcp.NewTool("track_search",
			mcp.WithDescription("Search time entries by keyword across descriptions, project names, and tags. Returns matching entries newest first."),
			mcp.WithTitleAnnotation("Search Time Entries"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Keyword to match as a substring"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Max results (default: 20)"),
			),
		),
		handleSearch(s),
	)

	// ─── track_entries ───────────────────────────────────────────────────
	srv.AddTool(
		mcp.NewTool("track_entries",
			mcp.WithDescription("List time entries matching a filter. Combine year, month, date, project, and tag; all filters are ANDed. Use project='' with no_project=true for the (no project) bucket."),
			mcp.WithTitleAnnotation("List Time Entries"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithNumber("year", mcp.Description("Calendar year, e.g. 2024")),
			mcp.WithNumber("month", mcp.Description("Month number 1-12")),
			mcp.WithString("date", mcp.Description("Exact date YYYY-MM-DD")),
			mcp.WithString("project", mcp.Description("Project name, case-insensitive exact match")),
			mcp.WithString("tag", mcp.Description("Tag the entry must carry")),
			mcp.WithBoolean("no_project", mcp.Description("Only entries without a project")),
			mcp.WithNumber("limit", mcp.Description("Max results (default: 50)")),
		),
		handleEntries(s),
	)

	// ─── track_top_projects ──────────────────────────────────────────────
	srv.AddTool(
		mcp.NewTool("track_top_projects",
			mcp.WithDescription("Rank projects by total tracked hours, optionally scoped to one year. Entries without a project appear as '(no project)'."),
			mcp.WithTitleAnnotation("Top Projects"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithNumber("year", mcp.Description("Scope to one calendar year (omit for all time)")),
			mcp.WithNumber("limit", mcp.Description("How many projects (default: 10)")),
		),
		handleTop(s, s.TopProjects, "projects"),
	)

	// ─── track_top_tags ──────────────────────────────────────────────────
	srv.AddTool(
		mcp.NewTool("track_top_tags",
			mcp.WithDescription("Rank tags by total tracked hours, optionally scoped to one year."),
			mcp.WithTitleAnnotation("Top Tags"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithNumber("year", mcp.Description("Scope to one calendar year (omit for all time)")),
			mcp.WithNumber("limit", mcp.Description("How many tags (default: 10)")),
		),
		handleTop(s, s.TopTags, "tags"),
	)

	// ─── track_stats ─────────────────────────────────────────────────────
	srv.AddTool(
		mcp.NewTool("track_stats",
			mcp.WithDescription("Overall statistics: total hours, entries, date range, project and year counts."),
			mcp.WithTitleAnnotation("Tracking Stats"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
		),
		handleStats(s),
	)

	// ─── track_ask ───────────────────────────────────────────────────────
	srv.AddTool(
		mcp.NewTool("track_ask",
			mcp.WithDescription(`Ask a natural-language question about tracked time, e.g. "How was 2024?", "Top projects in 2023", "What did I do on March 15, 2023?", "Compare 2023 and 2024". Returns a rendered text answer.`),
			mcp.WithTitleAnnotation("Ask About Tracked Time"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(false),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("The question to answer"),
			),
		),
		handleAsk(engine),
	)
}

// ─── Tool Handlers ───────────────────────────────────────────────────────────

func handleSearch(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, _ := req.GetArguments()["query"].(string)
		if strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		limit := intArg(req, "limit", 20)

		entries, err := s.Search(query, limit)
		if err != nil {
			return mcp.NewToolResultError("Search error: " + err.Error()), nil
		}
		if len(entries) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No entries found matching %q", query)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Found %d entries:\n\n", len(entries))
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s %s [%s] %.1fh%s\n",
				e.StartDate, orDash(e.Description), orNoProject(e.Project), e.DurationHours, tagSuffix(e.Tags))
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func handleEntries(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		project, _ := req.GetArguments()["project"].(string)
		date, _ := req.GetArguments()["date"].(string)
		tag, _ := req.GetArguments()["tag"].(string)

		f := store.Filter{
			Year:      intArg(req, "year", 0),
			Month:     intArg(req, "month", 0),
			Date:      date,
			Project:   project,
			Tag:       tag,
			NoProject: boolArg(req, "no_project", false),
			Limit:     intArg(req, "limit", 50),
		}

		entries, err := s.Entries(f)
		if err != nil {
			return mcp.NewToolResultError("Query error: " + err.Error()), nil
		}
		if len(entries) == 0 {
			return mcp.NewToolResultText("No entries match that filter."), nil
		}

		var total float64
		var b strings.Builder
		for _, e := range entries {
			total += e.DurationHours
			fmt.Fprintf(&b, "- %s %s [%s] %.1fh%s\n",
				e.StartDate, orDash(e.Description), orNoProject(e.Project), e.DurationHours, tagSuffix(e.Tags))
		}
		header := fmt.Sprintf("%d entries, %.1fh total:\n\n", len(entries), total)
		return mcp.NewToolResultText(header + b.String()), nil
	}
}

func handleTop(s *store.Store, query func(store.Filter, int) ([]store.GroupTotal, error), noun string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		year := intArg(req, "year", 0)
		limit := intArg(req, "limit", 10)

		top, err := query(store.Filter{Year: year}, limit)
		if err != nil {
			return mcp.NewToolResultError("Query error: " + err.Error()), nil
		}
		if len(top) == 0 {
			return mcp.NewToolResultText("No " + noun + " found."), nil
		}

		scope := "all time"
		if year > 0 {
			scope = fmt.Sprintf("%d", year)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Top %s (%s):\n", noun, scope)
		for i, g := range top {
			fmt.Fprintf(&b, "%d. %s: %.1fh (%d entries)\n", i+1, g.Name, g.Hours, g.Entries)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func handleStats(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := loadMCPStats(s)
		if err != nil {
			return mcp.NewToolResultError("Failed to get stats: " + err.Error()), nil
		}
		if stats.TotalEntries == 0 {
			return mcp.NewToolResultText("The store is empty. Run a sync first."), nil
		}

		result := fmt.Sprintf(
			"Tracking stats:\n- Entries: %d\n- Hours: %.1f\n- Projects: %d\n- Years: %d\n- Range: %s to %s",
			stats.TotalEntries, stats.TotalHours, stats.Projects, stats.Years,
			stats.EarliestDate, stats.LatestDate,
		)
		return mcp.NewToolResultText(result), nil
	}
}

func handleAsk(engine *answer.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, _ := req.GetArguments()["question"].(string)
		if strings.TrimSpace(question) == "" {
			return mcp.NewToolResultError("question is required"), nil
		}
		return mcp.NewToolResultText(engine.Answer(question)), nil
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

func orNoProject(p string) string {
	if p == "" {
		return store.NoProject
	}
	return p
}

func orDash(s string) string {
	if s == "" {
		return "(no description)"
	}
	return s
}

func tagSuffix(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return " #" + strings.Join(tags, " #")
}
