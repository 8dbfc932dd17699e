// togglmirror — local mirror of a personal Toggl Track history.
//
// Usage:
//
//	togglmirror sync           Fetch entries from Toggl into the local store
//	togglmirror rebuild        Re-ingest archived raw exports (no network)
//	togglmirror serve          Start the HTTP read API
//	togglmirror mcp            Start MCP server (stdio transport)
//	togglmirror ask <question> Ask about your tracked time
//	togglmirror search <query> Keyword search across entries
//	togglmirror stats          Show store statistics
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tah-allotrope/togglmirror/internal/answer"
	"github.com/tah-allotrope/togglmirror/internal/archive"
	"github.com/tah-allotrope/togglmirror/internal/config"
	"github.com/tah-allotrope/togglmirror/internal/ingest"
	"github.com/tah-allotrope/togglmirror/internal/mcp"
	"github.com/tah-allotrope/togglmirror/internal/server"
	"github.com/tah-allotrope/togglmirror/internal/store"
	"github.com/tah-allotrope/togglmirror/internal/toggl"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv(config.EnvDataDir))
	if err != nil {
		fatal(err)
	}

	switch os.Args[1] {
	case "sync":
		cmdSync(cfg)
	case "rebuild":
		cmdRebuild(cfg)
	case "serve":
		cmdServe(cfg)
	case "mcp":
		cmdMCP(cfg)
	case "ask":
		cmdAsk(cfg)
	case "search":
		cmdSearch(cfg)
	case "stats":
		cmdStats(cfg)
	case "version", "--version", "-v":
		fmt.Printf("togglmirror %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// ─── Commands ────────────────────────────────────────────────────────────────

func cmdSync(cfg config.Config) {
	mode := ingest.ModeIncremental
	var years []int
	for i := 2; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--full":
			mode = ingest.ModeFull
		case "--years":
			if i+1 < len(os.Args) {
				for _, part := range strings.Split(os.Args[i+1], ",") {
					if y, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
						years = append(years, y)
					}
				}
				i++
			}
		}
	}

	token, err := config.ResolveToken(cfg.DataDir)
	if err != nil {
		fatal(err)
	}
	client, err := toggl.NewClient(token, cfg.MaxRequestsPerHour)
	if err != nil {
		fatal(err)
	}

	s, ar := openStore(cfg)
	defer s.Close()

	syncer := ingest.New(client, s, ar, cfg.EarliestYear, log.New(os.Stderr, "", log.LstdFlags))
	report, err := syncer.Run(context.Background(), years, mode)
	if err != nil {
		fatal(err)
	}
	printReport(report)
	if report.Aborted {
		os.Exit(1)
	}
}

func cmdRebuild(cfg config.Config) {
	reset := len(os.Args) > 2 && os.Args[2] == "--reset"

	s, ar := openStore(cfg)
	defer s.Close()

	if reset {
		if err := s.Reset(); err != nil {
			fatal(err)
		}
		fmt.Println("Store reset.")
	}

	syncer := ingest.New(nil, s, ar, cfg.EarliestYear, log.New(os.Stderr, "", log.LstdFlags))
	report, err := syncer.Rebuild(context.Background())
	if err != nil {
		fatal(err)
	}
	printReport(report)
}

func cmdServe(cfg config.Config) {
	port := cfg.Port
	if p := os.Getenv(config.EnvPort); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	// Allow: togglmirror serve 8080
	if len(os.Args) > 2 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil {
			port = n
		}
	}

	s, ar := openStore(cfg)
	defer s.Close()

	// The sync endpoint works only when a credential resolves; the
	// read API stays available either way.
	var syncer *ingest.Syncer
	if token, err := config.ResolveToken(cfg.DataDir); err == nil {
		if client, err := toggl.NewClient(token, cfg.MaxRequestsPerHour); err == nil {
			syncer = ingest.New(client, s, ar, cfg.EarliestYear, log.New(os.Stderr, "", log.LstdFlags))
		}
	}

	srv := server.New(s, syncer, answer.New(s), port)
	if err := srv.Start(); err != nil {
		fatal(err)
	}
}

func cmdMCP(cfg config.Config) {
	s, _ := openStore(cfg)
	defer s.Close()

	mcpSrv := mcp.NewServer(s, answer.New(s))
	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		fatal(err)
	}
}

func cmdAsk(cfg config.Config) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: togglmirror ask <question>")
		os.Exit(1)
	}
	question := strings.Join(os.Args[2:], " ")

	s, _ := openStore(cfg)
	defer s.Close()

	fmt.Println(answer.New(s).Answer(question))
}

func cmdSearch(cfg config.Config) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: togglmirror search <query> [--limit N]")
		os.Exit(1)
	}

	limit := 20
	var queryParts []string
	for i := 2; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--limit":
			if i+1 < len(os.Args) {
				if n, err := strconv.Atoi(os.Args[i+1]); err == nil {
					limit = n
				}
				i++
			}
		default:
			queryParts = append(queryParts, os.Args[i])
		}
	}
	query := strings.Join(queryParts, " ")

	s, _ := openStore(cfg)
	defer s.Close()

	entries, err := s.Search(query, limit)
	if err != nil {
		fatal(err)
	}
	if len(entries) == 0 {
		fmt.Printf("No entries found for: %q\n", query)
		return
	}

	fmt.Printf("Found %d entries:\n\n", len(entries))
	for _, e := range entries {
		project := e.Project
		if project == "" {
			project = store.NoProject
		}
		tags := ""
		if len(e.Tags) > 0 {
			tags = " #" + strings.Join(e.Tags, " #")
		}
		fmt.Printf("  %s  %-40s [%s] %.1fh%s\n", e.StartDate, e.Description, project, e.DurationHours, tags)
	}
}

func cmdStats(cfg config.Config) {
	s, _ := openStore(cfg)
	defer s.Close()

	stats, err := s.Stats()
	if err != nil {
		fatal(err)
	}
	years, _ := s.Years()

	fmt.Printf("togglmirror stats\n")
	fmt.Printf("  Entries:   %d\n", stats.TotalEntries)
	fmt.Printf("  Hours:     %.1f\n", stats.TotalHours)
	fmt.Printf("  Projects:  %d\n", stats.Projects)
	fmt.Printf("  Years:     %s\n", joinYears(years))
	fmt.Printf("  Range:     %s to %s\n", stats.EarliestDate, stats.LatestDate)
	fmt.Printf("  Database:  %s/togglmirror.db\n", cfg.DataDir)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func openStore(cfg config.Config) (*store.Store, *archive.Archive) {
	storeCfg := store.DefaultConfig()
	storeCfg.DataDir = cfg.DataDir

	s, err := store.New(storeCfg)
	if err != nil {
		fatal(err)
	}
	ar, err := archive.New(cfg.ArchiveDir)
	if err != nil {
		fatal(err)
	}
	return s, ar
}

func printReport(r *ingest.Report) {
	fmt.Printf("Sync %s (%s mode) finished in %.1fs\n", r.RunID, r.Mode, r.ElapsedSeconds)
	for _, p := range r.Periods {
		switch p.Status {
		case ingest.StatusOK:
			fmt.Printf("  %d: ok, %d rows, %d inserted", p.Year, p.Rows, p.Inserted)
			if p.Invalid > 0 {
				fmt.Printf(", %d invalid", p.Invalid)
			}
			if p.Collisions > 0 {
				fmt.Printf(", %d collisions", p.Collisions)
			}
			fmt.Println()
		case ingest.StatusFailed:
			fmt.Printf("  %d: FAILED (%s)\n", p.Year, p.Error)
		case ingest.StatusSkipped:
			fmt.Printf("  %d: skipped\n", p.Year)
		}
	}
	ok := 0
	for _, p := range r.Periods {
		if p.Status == ingest.StatusOK {
			ok++
		}
	}
	fmt.Printf("%d of %d periods synced, %d entries inserted\n", ok, len(r.Periods), r.TotalInserted)
	if r.Aborted {
		fmt.Printf("Run aborted: %s\n", r.AbortReason)
	}
}

func joinYears(years []int) string {
	if len(years) == 0 {
		return "none"
	}
	parts := make([]string, len(years))
	for i, y := range years {
		parts[i] = strconv.Itoa(y)
	}
	return strings.Join(parts, ", ")
}

func printUsage() {
	fmt.Printf(`togglmirror v%s — local mirror of your Toggl Track history

Usage:
  togglmirror <command> [arguments]

Commands:
  sync               Fetch entries year by year into the local store
                       --full       Fetch every year, not just stale ones
                       --years Y,.. Restrict to specific years
  rebuild            Re-ingest archived raw exports without network calls
                       --reset      Wipe the store first
  serve [port]       Start HTTP read API (default: 7480)
  mcp                Start MCP server (stdio transport, for any AI agent)
  ask <question>     Ask about your tracked time ("How was 2024?")
  search <query>     Keyword search across entries [--limit N]
  stats              Show store statistics
  version            Print version
  help               Show this help

Environment:
  TOGGLMIRROR_DATA_DIR  Override data directory (default: ~/.togglmirror)
  TOGGLMIRROR_PORT      Override HTTP server port (default: 7480)
  TOGGL_API_TOKEN       API token fallback; secrets.toml in the data dir wins

MCP Configuration (add to your agent's config):
  {
    "mcp": {
      "togglmirror": {
        "type": "stdio",
        "command": "togglmirror",
        "args": ["mcp"]
      }
    }
  }
`, version)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "togglmirror: %s\n", err)
	os.Exit(1)
}
