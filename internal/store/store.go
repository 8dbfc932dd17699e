// Package store is the durable home for normalized time entries and the
// sole source of truth for every read consumer (CLI, HTTP, MCP, chat).
//
// Entries are keyed by their content-addressed identifier and merged
// with insert-if-absent semantics: a row is never overwritten by sync,
// only a full reset destroys data.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tah-allotrope/togglmirror/internal/entry"

	_ "modernc.org/sqlite"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// NoProject is the first-class bucket for entries without a project.
const NoProject = "(no project)"

// Entry is a stored row, with the derived calendar columns the query
// surface is built on.
type Entry struct {
	ID              string   `json:"id"`
	Description     string   `json:"description"`
	Project         string   `json:"project"`
	Tags            []string `json:"tags"`
	Start           string   `json:"start"`
	Stop            string   `json:"stop"`
	DurationSeconds int      `json:"duration_seconds"`
	DurationHours   float64  `json:"duration_hours"`
	Billable        bool     `json:"billable"`
	StartDate       string   `json:"start_date"`
	Year            int      `json:"year"`
	Month           int      `json:"month"`
	Day             int      `json:"day"`
	Week            int      `json:"week"`
}

// Filter narrows a query; zero values mean "no constraint". Fields
// combine with AND.
type Filter struct {
	Year          int    `json:"year,omitempty"`
	Month         int    `json:"month,omitempty"`
	Day           int    `json:"day,omitempty"`
	Date          string `json:"date,omitempty"` // YYYY-MM-DD
	Project       string `json:"project,omitempty"`
	ProjectPrefix string `json:"project_prefix,omitempty"`
	NoProject     bool   `json:"no_project,omitempty"`
	Tag           string `json:"tag,omitempty"`
	Text          string `json:"text,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// InsertResult reports one merge batch.
type InsertResult struct {
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Collisions []string `json:"collisions,omitempty"` // ids whose stored content differs
}

type Summary struct {
	Hours      float64 `json:"hours"`
	Entries    int     `json:"entries"`
	ActiveDays int     `json:"active_days"`
}

type GroupTotal struct {
	Name    string  `json:"name"`
	Hours   float64 `json:"hours"`
	Entries int     `json:"entries"`
}

type Stats struct {
	TotalEntries int     `json:"total_entries"`
	TotalHours   float64 `json:"total_hours"`
	EarliestDate string  `json:"earliest_date"`
	LatestDate   string  `json:"latest_date"`
	Projects     int     `json:"projects"`
	Years        int     `json:"years"`
}

// ─── Config ──────────────────────────────────────────────────────────────────

type Config struct {
	DataDir          string
	MaxSearchResults int
}

func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".togglmirror"),
		MaxSearchResults: 200,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

type Store struct {
	db  *sql.DB
	cfg Config
}

func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("togglmirror: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "togglmirror.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("togglmirror: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("togglmirror: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("togglmirror: migration: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			id               TEXT PRIMARY KEY,
			description      TEXT NOT NULL DEFAULT '',
			project          TEXT NOT NULL DEFAULT '',
			tags             TEXT NOT NULL DEFAULT '[]',
			start            TEXT NOT NULL,
			stop             TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL,
			duration_hours   REAL NOT NULL,
			billable         INTEGER NOT NULL DEFAULT 0,
			start_date       TEXT NOT NULL,
			start_year       INTEGER NOT NULL,
			start_month      INTEGER NOT NULL,
			start_day        INTEGER NOT NULL,
			start_week       INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_entries_date      ON entries(start_date);
		CREATE INDEX IF NOT EXISTS idx_entries_year      ON entries(start_year);
		CREATE INDEX IF NOT EXISTS idx_entries_month_day ON entries(start_month, start_day);
		CREATE INDEX IF NOT EXISTS idx_entries_week      ON entries(start_year, start_week);
		CREATE INDEX IF NOT EXISTS idx_entries_project   ON entries(project);

		CREATE TABLE IF NOT EXISTS sync_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Merge ───────────────────────────────────────────────────────────────────

// InsertMissing merges a batch of normalized entries. Each entry is
// inserted only if its id is absent; an existing row is never touched.
// The batch may contain duplicate ids. An id that already exists with
// different content is recorded as a collision and the incoming row is
// dropped.
func (s *Store) InsertMissing(entries []entry.Entry) (*InsertResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("merge: begin tx: %w", err)
	}
	defer tx.Rollback()

	result := &InsertResult{}
	seen := make(map[string]bool, len(entries))

	for _, e := range entries {
		if seen[e.ID] {
			result.Duplicates++
			continue
		}
		seen[e.ID] = true

		tags, err := json.Marshal(tagsOrEmpty(e.Tags))
		if err != nil {
			return nil, fmt.Errorf("merge: encode tags for %s: %w", e.ID, err)
		}

		start := e.Start.UTC()
		_, week := start.ISOWeek()
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO entries
				(id, description, project, tags, start, stop, duration_seconds, duration_hours,
				 billable, start_date, start_year, start_month, start_day, start_week)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Description, e.Project, string(tags),
			start.Format(time.RFC3339), e.Stop.UTC().Format(time.RFC3339),
			e.DurationSeconds, float64(e.DurationSeconds)/3600.0,
			boolToInt(e.Billable),
			start.Format("2006-01-02"), start.Year(), int(start.Month()), start.Day(), week,
		)
		if err != nil {
			return nil, fmt.Errorf("merge: insert %s: %w", e.ID, err)
		}

		n, _ := res.RowsAffected()
		if n > 0 {
			result.Inserted++
			continue
		}
		result.Duplicates++

		// Same id already stored. If the stored content differs, two
		// distinct rows hashed to one identifier; report it rather
		// than silently merging.
		var desc, proj string
		var dur int
		err = tx.QueryRow(
			`SELECT description, project, duration_seconds FROM entries WHERE id = ?`, e.ID,
		).Scan(&desc, &proj, &dur)
		if err != nil {
			return nil, fmt.Errorf("merge: check %s: %w", e.ID, err)
		}
		if desc != e.Description || proj != e.Project || dur != e.DurationSeconds {
			result.Collisions = append(result.Collisions, e.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("merge: commit: %w", err)
	}
	return result, nil
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// Entries returns rows matching the filter, oldest first. No match is
// an empty slice, not an error.
func (s *Store) Entries(f Filter) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE duration_seconds > 0`
	args := []any{}
	query, args = applyFilter(query, args, f)

	query += " ORDER BY start ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return s.queryEntries(query, args...)
}

// Totals aggregates hours, row count and distinct active days over the
// filtered set.
func (s *Store) Totals(f Filter) (*Summary, error) {
	query := `
		SELECT COALESCE(SUM(duration_hours), 0), COUNT(*), COUNT(DISTINCT start_date)
		FROM entries WHERE duration_seconds > 0`
	args := []any{}
	query, args = applyFilter(query, args, f)

	var sum Summary
	if err := s.db.QueryRow(query, args...).Scan(&sum.Hours, &sum.Entries, &sum.ActiveDays); err != nil {
		return nil, fmt.Errorf("totals: %w", err)
	}
	return &sum, nil
}

// TopProjects ranks projects by total hours, descending. Entries
// without a project land in the NoProject bucket.
func (s *Store) TopProjects(f Filter, limit int) ([]GroupTotal, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT CASE WHEN project = '' THEN '` + NoProject + `' ELSE project END AS bucket,
		       SUM(duration_hours), COUNT(*)
		FROM entries WHERE duration_seconds > 0`
	args := []any{}
	query, args = applyFilter(query, args, f)

	query += " GROUP BY bucket ORDER BY SUM(duration_hours) DESC LIMIT ?"
	args = append(args, limit)

	return s.queryGroupTotals(query, args...)
}

// TopTags ranks tags by total hours, descending, unnesting the JSON
// tags column.
func (s *Store) TopTags(f Filter, limit int) ([]GroupTotal, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT t.value, SUM(entries.duration_hours), COUNT(*)
		FROM entries, json_each(entries.tags) AS t
		WHERE duration_seconds > 0 AND t.value != ''`
	args := []any{}
	query, args = applyFilter(query, args, f)

	query += " GROUP BY t.value ORDER BY SUM(entries.duration_hours) DESC LIMIT ?"
	args = append(args, limit)

	return s.queryGroupTotals(query, args...)
}

// EntriesOnDay returns entries on one month/day across every year,
// ordered by year. This powers the "what did I do today in past years"
// retrospective.
func (s *Store) EntriesOnDay(month, day int) ([]Entry, error) {
	return s.queryEntries(
		`SELECT `+entryColumns+` FROM entries
		 WHERE start_month = ? AND start_day = ? AND duration_seconds > 0
		 ORDER BY start_year ASC, start ASC`,
		month, day,
	)
}

// EntriesForWeek returns entries in one ISO week number across every year.
func (s *Store) EntriesForWeek(week int) ([]Entry, error) {
	return s.queryEntries(
		`SELECT `+entryColumns+` FROM entries
		 WHERE start_week = ? AND duration_seconds > 0
		 ORDER BY start_year ASC, start ASC`,
		week,
	)
}

// Search matches a keyword as a substring of description, project or
// tags, newest first.
func (s *Store) Search(keyword string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.cfg.MaxSearchResults {
		limit = s.cfg.MaxSearchResults
	}
	pattern := "%" + keyword + "%"
	return s.queryEntries(
		`SELECT `+entryColumns+` FROM entries
		 WHERE (description LIKE ? OR project LIKE ? OR tags LIKE ?)
		   AND duration_seconds > 0
		 ORDER BY start DESC
		 LIMIT ?`,
		pattern, pattern, pattern, limit,
	)
}

func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{}
	var earliest, latest sql.NullString
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(duration_hours), 0),
		       MIN(start_date),
		       MAX(start_date),
		       COUNT(DISTINCT CASE WHEN project != '' THEN project END),
		       COUNT(DISTINCT start_year)
		FROM entries
		WHERE duration_seconds > 0
	`).Scan(&stats.TotalEntries, &stats.TotalHours, &earliest, &latest, &stats.Projects, &stats.Years)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	stats.EarliestDate = earliest.String
	stats.LatestDate = latest.String
	return stats, nil
}

// Years returns the distinct years with data, ascending.
func (s *Store) Years() ([]int, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT start_year FROM entries ORDER BY start_year`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// ProjectNames returns the distinct non-empty project names, sorted.
func (s *Store) ProjectNames() ([]string, error) {
	return s.queryStrings(
		`SELECT DISTINCT project FROM entries WHERE project != '' ORDER BY project`,
	)
}

// TagNames returns every distinct tag in use, sorted.
func (s *Store) TagNames() ([]string, error) {
	return s.queryStrings(
		`SELECT DISTINCT t.value FROM entries, json_each(entries.tags) AS t
		 WHERE t.value != '' ORDER BY t.value`,
	)
}

// IsEmpty reports whether the store holds no entries at all. An empty
// store on startup means cold start and forces a full sync.
func (s *Store) IsEmpty() (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

// ─── Sync metadata ───────────────────────────────────────────────────────────

func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)`, key, value,
	)
	return err
}

// GetMeta returns the stored value, or "" when the key is absent.
func (s *Store) GetMeta(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Reset drops every entry and all sync metadata. The only way entries
// are ever destroyed.
func (s *Store) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM sync_meta`); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

const entryColumns = `id, description, project, tags, start, stop,
	duration_seconds, duration_hours, billable,
	start_date, start_year, start_month, start_day, start_week`

func applyFilter(query string, args []any, f Filter) (string, []any) {
	if f.Year > 0 {
		query += " AND start_year = ?"
		args = append(args, f.Year)
	}
	if f.Month > 0 {
		query += " AND start_month = ?"
		args = append(args, f.Month)
	}
	if f.Day > 0 {
		query += " AND start_day = ?"
		args = append(args, f.Day)
	}
	if f.Date != "" {
		query += " AND start_date = ?"
		args = append(args, f.Date)
	}
	if f.NoProject {
		query += " AND project = ''"
	} else if f.Project != "" {
		query += " AND project = ? COLLATE NOCASE"
		args = append(args, f.Project)
	} else if f.ProjectPrefix != "" {
		query += " AND project LIKE ? COLLATE NOCASE"
		args = append(args, f.ProjectPrefix+"%")
	}
	if f.Tag != "" {
		// Tags are a JSON array; membership is a quoted-substring match.
		query += " AND tags LIKE ?"
		args = append(args, `%"`+f.Tag+`"%`)
	}
	if f.Text != "" {
		query += " AND (description LIKE ? OR project LIKE ? OR tags LIKE ?)"
		pattern := "%" + f.Text + "%"
		args = append(args, pattern, pattern, pattern)
	}
	return query, args
}

func (s *Store) queryEntries(query string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		var e Entry
		var tags string
		var billable int
		if err := rows.Scan(
			&e.ID, &e.Description, &e.Project, &tags, &e.Start, &e.Stop,
			&e.DurationSeconds, &e.DurationHours, &billable,
			&e.StartDate, &e.Year, &e.Month, &e.Day, &e.Week,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			e.Tags = nil
		}
		e.Billable = billable != 0
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *Store) queryGroupTotals(query string, args ...any) ([]GroupTotal, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []GroupTotal
	for rows.Next() {
		var g GroupTotal
		if err := rows.Scan(&g.Name, &g.Hours, &g.Entries); err != nil {
			return nil, err
		}
		results = append(results, g)
	}
	return results, rows.Err()
}

func (s *Store) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
