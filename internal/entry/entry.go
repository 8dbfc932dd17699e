// Package entry turns raw export rows into canonical time entries and
// assigns each one a deterministic content-addressed identifier.
//
// The CSV export carries no stable primary key, so the identifier is a
// SHA-256 hash over the entry's immutable fields. The field order and
// formatting of the hash input are frozen: changing them changes every
// identifier and requires a full re-sync.
package entry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tah-allotrope/togglmirror/internal/toggl"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Entry is one tracked activity interval.
type Entry struct {
	ID              string    `json:"id"`
	Description     string    `json:"description"`
	Project         string    `json:"project"`
	Tags            []string  `json:"tags"`
	Start           time.Time `json:"start"`
	Stop            time.Time `json:"stop"`
	DurationSeconds int       `json:"duration_seconds"`
	Billable        bool      `json:"billable"`
	Year            int       `json:"year"`
}

// SkipError marks a row that cannot be normalized but should not fail
// the period: it is logged, counted, and dropped.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "entry: skipped row: " + e.Reason
}

// ValidationError marks a row that is structurally invalid (timestamps
// out of order, duration inconsistent with the interval). The row is
// rejected, never coerced.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "entry: invalid row: " + e.Reason
}

// ─── Normalization ───────────────────────────────────────────────────────────

// Normalize converts one raw export row into a canonical Entry.
// Rows missing either timestamp return a *SkipError; rows with
// inconsistent timestamps or duration return a *ValidationError.
func Normalize(raw toggl.RawEntry) (Entry, error) {
	if raw.Start == "" || raw.Stop == "" {
		return Entry{}, &SkipError{Reason: "missing start or stop timestamp"}
	}

	start, err := parseTimestamp(raw.Start)
	if err != nil {
		return Entry{}, &SkipError{Reason: fmt.Sprintf("unparseable start %q", raw.Start)}
	}
	stop, err := parseTimestamp(raw.Stop)
	if err != nil {
		return Entry{}, &SkipError{Reason: fmt.Sprintf("unparseable stop %q", raw.Stop)}
	}

	if stop.Before(start) {
		return Entry{}, &ValidationError{
			Reason: fmt.Sprintf("stop %s precedes start %s", raw.Stop, raw.Start),
		}
	}

	derived := int(stop.Sub(start).Seconds())
	if raw.DurationSeconds > 0 && raw.DurationSeconds != derived {
		return Entry{}, &ValidationError{
			Reason: fmt.Sprintf("duration %ds does not match interval %ds", raw.DurationSeconds, derived),
		}
	}

	description := canonicalText(raw.Description)
	project := canonicalText(raw.Project)

	return Entry{
		ID:              ComputeID(start, stop, description, project, derived),
		Description:     description,
		Project:         project,
		Tags:            ParseTags(raw.Tags),
		Start:           start,
		Stop:            stop,
		DurationSeconds: derived,
		Billable:        raw.Billable,
		Year:            start.UTC().Year(),
	}, nil
}

// ComputeID returns the deterministic identifier for an entry.
// Input fields are canonicalized first: timestamps are UTC RFC 3339,
// text fields have whitespace runs collapsed, so formatting-only
// differences never change the identifier.
func ComputeID(start, stop time.Time, description, project string, durationSeconds int) string {
	seed := strings.Join([]string{
		start.UTC().Format(time.RFC3339),
		stop.UTC().Format(time.RFC3339),
		canonicalText(description),
		canonicalText(project),
		strconv.Itoa(durationSeconds),
	}, "|")
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// ParseTags splits a comma-separated tag field into a trimmed,
// deduplicated, sorted set.
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	seen := make(map[string]bool)
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// timestampLayouts covers the export's "date T time" form, with and
// without an explicit offset.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("entry: unrecognized timestamp %q", s)
}

func canonicalText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
