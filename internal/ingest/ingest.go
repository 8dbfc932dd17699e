// Package ingest drives sync cycles: it enumerates the calendar years
// needing refresh, fetches each through the rate-limited client,
// normalizes the rows, and merges them into the store.
//
// Failures are isolated per year. One year failing never stops the
// rest; only an authentication failure aborts the run. A sync always
// finishes with a Report, it never panics past its own boundary.
package ingest

import (
	"context"
	"errors"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tah-allotrope/togglmirror/internal/archive"
	"github.com/tah-allotrope/togglmirror/internal/entry"
	"github.com/tah-allotrope/togglmirror/internal/store"
	"github.com/tah-allotrope/togglmirror/internal/toggl"
)

// ─── Types ───────────────────────────────────────────────────────────────────

type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// PeriodResult is the outcome of one calendar year.
type PeriodResult struct {
	Year       int    `json:"year"`
	Status     Status `json:"status"`
	Rows       int    `json:"rows"`
	Inserted   int    `json:"inserted"`
	Invalid    int    `json:"invalid"`
	Collisions int    `json:"collisions"`
	Error      string `json:"error,omitempty"`
}

// Report is the only thing a sync surfaces to its caller.
type Report struct {
	RunID           string         `json:"run_id"`
	Mode            Mode           `json:"mode"`
	StartedAt       time.Time      `json:"started_at"`
	ElapsedSeconds  float64        `json:"elapsed_seconds"`
	Periods         []PeriodResult `json:"periods"`
	TotalRows       int            `json:"total_rows"`
	TotalInserted   int            `json:"total_inserted"`
	TotalInvalid    int            `json:"total_invalid"`
	TotalCollisions int            `json:"total_collisions"`
	Aborted         bool           `json:"aborted"`
	AbortReason     string         `json:"abort_reason,omitempty"`
}

// Exporter is the slice of the remote client the syncer needs.
type Exporter interface {
	ExportYear(ctx context.Context, year int) ([]byte, error)
}

type Syncer struct {
	client  Exporter
	store   *store.Store
	archive *archive.Archive
	log     *log.Logger

	earliestYear int
	retries      int
	backoff      time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(client Exporter, st *store.Store, ar *archive.Archive, earliestYear int, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Syncer{
		client:       client,
		store:        st,
		archive:      ar,
		log:          logger,
		earliestYear: earliestYear,
		retries:      3,
		backoff:      2 * time.Second,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// ─── Sync ────────────────────────────────────────────────────────────────────

// Run executes one sync cycle over the given years (or every year from
// the configured earliest when nil). Full mode fetches everything;
// incremental skips past years already synced but always refreshes the
// current year, since it is still accumulating entries. An empty store
// forces a full run regardless of the requested mode.
func (s *Syncer) Run(ctx context.Context, years []int, mode Mode) (*Report, error) {
	started := s.now()
	if len(years) == 0 {
		years = YearsFrom(s.earliestYear, started)
	}

	empty, err := s.store.IsEmpty()
	if err != nil {
		return nil, err
	}
	if empty && mode != ModeFull {
		s.log.Printf("sync: store is empty, forcing full sync")
		mode = ModeFull
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: started,
	}

	currentYear := started.UTC().Year()
	for i, year := range years {
		// Abort between periods only, never mid-request.
		if err := ctx.Err(); err != nil {
			s.markRemaining(report, years[i:], "run canceled")
			report.Aborted = true
			report.AbortReason = err.Error()
			break
		}

		if report.Aborted {
			report.Periods = append(report.Periods, PeriodResult{
				Year: year, Status: StatusSkipped, Error: "run aborted",
			})
			continue
		}

		if mode == ModeIncremental && year < currentYear {
			synced, err := s.store.GetMeta(metaKeyYear(year))
			if err == nil && synced != "" {
				report.Periods = append(report.Periods, PeriodResult{Year: year, Status: StatusSkipped})
				continue
			}
		}

		result := s.syncYear(ctx, year)
		if result.Status == StatusFailed && isAuthError(result.err) {
			// No point fetching further years with a bad credential.
			report.Aborted = true
			report.AbortReason = result.Error
		}
		report.Periods = append(report.Periods, result.PeriodResult)
		report.TotalRows += result.Rows
		report.TotalInserted += result.Inserted
		report.TotalInvalid += result.Invalid
		report.TotalCollisions += result.Collisions
	}

	if !report.Aborted {
		now := s.now().UTC().Format(time.RFC3339)
		if mode == ModeFull {
			_ = s.store.SetMeta("last_full_sync", now)
		}
		_ = s.store.SetMeta("last_sync", now)
	}

	report.ElapsedSeconds = s.now().Sub(started).Seconds()
	return report, nil
}

type periodOutcome struct {
	PeriodResult
	err error
}

// syncYear runs one year through the FETCHING → NORMALIZING → MERGED
// pipeline. Any failure is folded into the result; nothing escapes.
func (s *Syncer) syncYear(ctx context.Context, year int) periodOutcome {
	s.log.Printf("sync: fetching %d", year)

	raw, err := s.fetchWithRetry(ctx, year)
	if err != nil {
		s.log.Printf("sync: %d failed: %v", year, err)
		return periodOutcome{
			PeriodResult: PeriodResult{Year: year, Status: StatusFailed, Error: err.Error()},
			err:          err,
		}
	}

	if s.archive != nil {
		if err := s.archive.Write(year, raw); err != nil {
			// Archiving is best effort; the merge still proceeds.
			s.log.Printf("sync: archive %d: %v", year, err)
		}
	}

	result, err := s.mergeRaw(year, raw)
	if err != nil {
		return periodOutcome{
			PeriodResult: PeriodResult{Year: year, Status: StatusFailed, Error: err.Error()},
			err:          err,
		}
	}

	_ = s.store.SetMeta(metaKeyYear(year), s.now().UTC().Format(time.RFC3339))
	s.log.Printf("sync: %d merged, %d rows, %d inserted", year, result.Rows, result.Inserted)
	return periodOutcome{PeriodResult: result}
}

// mergeRaw parses, normalizes and merges one year's raw export bytes.
func (s *Syncer) mergeRaw(year int, raw []byte) (PeriodResult, error) {
	result := PeriodResult{Year: year, Status: StatusOK}

	rows, err := toggl.ParseExport(raw)
	if err != nil {
		var formatErr *toggl.FormatError
		if errors.As(err, &formatErr) {
			// Unparseable body counts as an empty period, not a failure.
			s.log.Printf("sync: %d: %v, treating as empty", year, err)
			return result, nil
		}
		return PeriodResult{}, err
	}
	result.Rows = len(rows)

	var entries []entry.Entry
	for _, row := range rows {
		e, err := entry.Normalize(row)
		if err != nil {
			result.Invalid++
			s.log.Printf("sync: %d: %v", year, err)
			continue
		}
		entries = append(entries, e)
	}

	merged, err := s.store.InsertMissing(entries)
	if err != nil {
		return PeriodResult{}, err
	}
	result.Inserted = merged.Inserted
	result.Collisions = len(merged.Collisions)
	for _, id := range merged.Collisions {
		s.log.Printf("sync: %d: identity collision on %s, incoming row dropped", year, id)
	}
	return result, nil
}

func (s *Syncer) fetchWithRetry(ctx context.Context, year int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		raw, err := s.client.ExportYear(ctx, year)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		var transportErr *toggl.TransportError
		if !errors.As(err, &transportErr) {
			// Auth and format errors are not transient.
			return nil, err
		}
		if attempt < s.retries-1 {
			delay := s.backoff * time.Duration(1<<attempt)
			s.log.Printf("sync: %d attempt %d failed (%v), retrying in %s", year, attempt+1, err, delay)
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// ─── Rebuild ─────────────────────────────────────────────────────────────────

// Rebuild re-ingests every archived year without touching the network.
func (s *Syncer) Rebuild(ctx context.Context) (*Report, error) {
	started := s.now()
	report := &Report{
		RunID:     uuid.NewString(),
		Mode:      ModeFull,
		StartedAt: started,
	}

	years, err := s.archive.Years()
	if err != nil {
		return nil, err
	}

	for _, year := range years {
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			report.AbortReason = err.Error()
			break
		}

		raw, err := s.archive.Read(year)
		if err != nil {
			report.Periods = append(report.Periods, PeriodResult{
				Year: year, Status: StatusFailed, Error: err.Error(),
			})
			continue
		}

		result, err := s.mergeRaw(year, raw)
		if err != nil {
			report.Periods = append(report.Periods, PeriodResult{
				Year: year, Status: StatusFailed, Error: err.Error(),
			})
			continue
		}
		report.Periods = append(report.Periods, result)
		report.TotalRows += result.Rows
		report.TotalInserted += result.Inserted
		report.TotalInvalid += result.Invalid
		report.TotalCollisions += result.Collisions
	}

	report.ElapsedSeconds = s.now().Sub(started).Seconds()
	return report, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// YearsFrom enumerates calendar years from earliest through now's year.
func YearsFrom(earliest int, now time.Time) []int {
	current := now.UTC().Year()
	if earliest <= 0 || earliest > current {
		earliest = current
	}
	years := make([]int, 0, current-earliest+1)
	for y := earliest; y <= current; y++ {
		years = append(years, y)
	}
	return years
}

func (s *Syncer) markRemaining(report *Report, years []int, reason string) {
	for _, year := range years {
		report.Periods = append(report.Periods, PeriodResult{
			Year: year, Status: StatusSkipped, Error: reason,
		})
	}
}

func metaKeyYear(year int) string {
	return "last_sync_" + strconv.Itoa(year)
}

func isAuthError(err error) bool {
	var authErr *toggl.AuthError
	return errors.As(err, &authErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
