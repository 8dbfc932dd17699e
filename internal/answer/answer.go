// Package answer routes natural-language questions about tracked time
// to store queries. Routing is an ordered list of (predicate, handler)
// rules evaluated in fixed priority order; the first rule that matches
// wins, and the fallback is a help message.
package answer

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tah-allotrope/togglmirror/internal/store"
)

type Engine struct {
	store *store.Store
	now   func() time.Time
	rules []rule
}

// rule pairs a predicate with its handler: try inspects the question
// and, when it matches, returns the rendered answer.
type rule struct {
	name string
	try  func(q string) (string, bool)
}

func New(s *store.Store) *Engine {
	e := &Engine{store: s, now: time.Now}
	e.rules = []rule{
		{"top-projects", e.tryTopProjects},
		{"top-tags", e.tryTopTags},
		{"tag", e.tryTag},
		{"date", e.tryDate},
		{"week", e.tryWeek},
		{"today", e.tryToday},
		{"compare", e.tryCompare},
		{"totals", e.tryTotals},
		{"month", e.tryMonth},
		{"year", e.tryYear},
		{"project", e.tryProject},
		{"search", e.trySearch},
	}
	return e
}

// Answer resolves one question. It always returns text, never an error:
// unanswerable questions get the help message.
func (e *Engine) Answer(question string) string {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return e.help()
	}
	for _, r := range e.rules {
		if answer, ok := r.try(q); ok {
			return answer
		}
	}
	return e.help()
}

// ─── Patterns ────────────────────────────────────────────────────────────────

var (
	yearRe    = regexp.MustCompile(`\b(20\d{2})\b`)
	tagRe     = regexp.MustCompile(`(?:tagged|tag)\s+["']?(.+?)["']?(?:\s+in\s+(20\d{2}))?$`)
	dateRe    = regexp.MustCompile(`(?:on|for)\s+(\w+)\s+(\d{1,2})(?:st|nd|rd|th)?(?:[,\s]+(\d{4}))?`)
	weekRe    = regexp.MustCompile(`week\s*(\d{1,2})`)
	compareRe = regexp.MustCompile(`(20\d{2})\s+(?:and|vs|to|with|versus)\s+(20\d{2})`)
	monthRe   = regexp.MustCompile(`(?:in|last|for)\s+(\w+)(?:\s+(20\d{2}))?`)
	projectRe = regexp.MustCompile(`project\s+["']?(.+?)["']?(?:\s+in\s+(20\d{2}))?$`)
	searchRe  = regexp.MustCompile(`(?:search|find|look for|when did i)\s+(.+)`)
)

var months = map[string]int{
	"january": 1, "jan": 1, "february": 2, "feb": 2, "march": 3, "mar": 3,
	"april": 4, "apr": 4, "may": 5, "june": 6, "jun": 6, "july": 7, "jul": 7,
	"august": 8, "aug": 8, "september": 9, "sep": 9, "sept": 9,
	"october": 10, "oct": 10, "november": 11, "nov": 11, "december": 12, "dec": 12,
}

// ─── Rules ───────────────────────────────────────────────────────────────────

func (e *Engine) tryTopProjects(q string) (string, bool) {
	if !containsAny(q, "top project", "biggest project", "most project", "best project", "main project") {
		return "", false
	}
	return e.renderTopProjects(matchYear(q)), true
}

func (e *Engine) tryTopTags(q string) (string, bool) {
	if !containsAny(q, "top tag", "biggest tag", "most tag", "best tag", "main tag", "what tag") {
		return "", false
	}
	return e.renderTopTags(matchYear(q)), true
}

func (e *Engine) tryTag(q string) (string, bool) {
	m := tagRe.FindStringSubmatch(q)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	year := 0
	if m[2] != "" {
		year, _ = strconv.Atoi(m[2])
	}

	known, _ := e.store.TagNames()
	matched := fuzzyMatch(name, known)
	if matched == "" {
		return fmt.Sprintf("No tag matching %q found. Known tags: %s", name, strings.Join(known, ", ")), true
	}
	return e.renderTag(matched, year), true
}

func (e *Engine) tryDate(q string) (string, bool) {
	m := dateRe.FindStringSubmatch(q)
	if m == nil {
		return "", false
	}
	month, ok := months[strings.ToLower(m[1])]
	if !ok {
		return "", false
	}
	day, _ := strconv.Atoi(m[2])
	if m[3] != "" {
		year, _ := strconv.Atoi(m[3])
		return e.renderDate(year, month, day), true
	}
	return e.renderDateAcrossYears(month, day), true
}

func (e *Engine) tryWeek(q string) (string, bool) {
	if strings.Contains(q, "this week") {
		_, week := e.now().ISOWeek()
		return e.renderWeek(week), true
	}
	if strings.Contains(q, "last week") {
		_, week := e.now().AddDate(0, 0, -7).ISOWeek()
		return e.renderWeek(week), true
	}
	if m := weekRe.FindStringSubmatch(q); m != nil {
		week, _ := strconv.Atoi(m[1])
		return e.renderWeek(week), true
	}
	return "", false
}

func (e *Engine) tryToday(q string) (string, bool) {
	if strings.Contains(q, "today") {
		t := e.now()
		return e.renderDateAcrossYears(int(t.Month()), t.Day()), true
	}
	if strings.Contains(q, "yesterday") {
		t := e.now().AddDate(0, 0, -1)
		return e.renderDateAcrossYears(int(t.Month()), t.Day()), true
	}
	return "", false
}

func (e *Engine) tryCompare(q string) (string, bool) {
	m := compareRe.FindStringSubmatch(q)
	if m == nil {
		return "", false
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	return e.renderCompare(a, b), true
}

func (e *Engine) tryTotals(q string) (string, bool) {
	if !containsAny(q, "total", "overall", "how much time", "all time", "lifetime") {
		return "", false
	}

	// "total on Work" is a project or tag question, not an all-time one.
	projects, _ := e.store.ProjectNames()
	for _, p := range projects {
		if strings.Contains(q, strings.ToLower(p)) {
			return e.renderProject(p, matchYear(q)), true
		}
	}
	tags, _ := e.store.TagNames()
	for _, t := range tags {
		if strings.Contains(q, strings.ToLower(t)) {
			return e.renderTag(t, matchYear(q)), true
		}
	}
	return e.renderTotals(), true
}

func (e *Engine) tryMonth(q string) (string, bool) {
	m := monthRe.FindStringSubmatch(q)
	if m == nil {
		return "", false
	}
	month, ok := months[strings.ToLower(m[1])]
	if !ok {
		return "", false
	}
	year := 0
	if m[2] != "" {
		year, _ = strconv.Atoi(m[2])
	}
	return e.renderMonth(month, year), true
}

func (e *Engine) tryYear(q string) (string, bool) {
	year := matchYear(q)
	if year == 0 {
		return "", false
	}
	return e.renderYear(year), true
}

func (e *Engine) tryProject(q string) (string, bool) {
	known, _ := e.store.ProjectNames()

	if m := projectRe.FindStringSubmatch(q); m != nil {
		name := strings.TrimSpace(m[1])
		year := 0
		if m[2] != "" {
			year, _ = strconv.Atoi(m[2])
		}
		matched := fuzzyMatch(name, known)
		if matched == "" {
			return fmt.Sprintf("No project matching %q. Known projects: %s", name, strings.Join(known, ", ")), true
		}
		return e.renderProject(matched, year), true
	}

	// Bare project name typed directly.
	for _, p := range known {
		if strings.ToLower(p) == q {
			return e.renderProject(p, 0), true
		}
	}
	return "", false
}

func (e *Engine) trySearch(q string) (string, bool) {
	m := searchRe.FindStringSubmatch(q)
	if m == nil {
		return "", false
	}
	keyword := strings.Trim(strings.TrimSpace(m[1]), `"'`)
	return e.renderSearch(keyword), true
}

// ─── Rendering ───────────────────────────────────────────────────────────────

func (e *Engine) renderTotals() string {
	stats, err := e.store.Stats()
	if err != nil || stats.TotalEntries == 0 {
		return "No data found."
	}
	return fmt.Sprintf(
		"All-time stats:\n- Total hours: %.1f\n- Total entries: %d\n- Years tracked: %d\n- Unique projects: %d\n- Date range: %s to %s",
		stats.TotalHours, stats.TotalEntries, stats.Years, stats.Projects,
		stats.EarliestDate, stats.LatestDate,
	)
}

func (e *Engine) renderYear(year int) string {
	sum, err := e.store.Totals(store.Filter{Year: year})
	if err != nil || sum.Entries == 0 {
		return fmt.Sprintf("No data found for %d.", year)
	}
	avg := 0.0
	if sum.ActiveDays > 0 {
		avg = sum.Hours / float64(sum.ActiveDays)
	}

	top, _ := e.store.TopProjects(store.Filter{Year: year}, 5)
	return fmt.Sprintf(
		"%d summary:\n- Total hours: %.1f\n- Entries: %d\n- Active days: %d\n- Avg hours/day: %.1f\n\nTop projects:\n%s",
		year, sum.Hours, sum.Entries, sum.ActiveDays, avg, renderGroups(top),
	)
}

func (e *Engine) renderDate(year, month, day int) string {
	date := fmt.Sprintf("%d-%02d-%02d", year, month, day)
	entries, err := e.store.Entries(store.Filter{Date: date})
	if err != nil || len(entries) == 0 {
		return fmt.Sprintf("No entries found for %s.", date)
	}

	var total float64
	var b strings.Builder
	for _, en := range entries {
		total += en.DurationHours
		fmt.Fprintf(&b, "- %s: %s (%.1fh)\n", orNoProject(en.Project), orNoDescription(en.Description), en.DurationHours)
	}
	return fmt.Sprintf("%s: %.1f hours, %d entries:\n%s", date, total, len(entries), strings.TrimRight(b.String(), "\n"))
}

func (e *Engine) renderDateAcrossYears(month, day int) string {
	entries, err := e.store.EntriesOnDay(month, day)
	if err != nil || len(entries) == 0 {
		return fmt.Sprintf("No entries found for %02d-%02d in any year.", month, day)
	}

	type yearAgg struct {
		hours    float64
		projects map[string]float64
	}
	byYear := make(map[int]*yearAgg)
	var years []int
	for _, en := range entries {
		agg := byYear[en.Year]
		if agg == nil {
			agg = &yearAgg{projects: make(map[string]float64)}
			byYear[en.Year] = agg
			years = append(years, en.Year)
		}
		agg.hours += en.DurationHours
		agg.projects[orNoProject(en.Project)] += en.DurationHours
	}
	sort.Ints(years)

	var b strings.Builder
	fmt.Fprintf(&b, "On %02d/%02d across all years:\n", month, day)
	for _, y := range years {
		agg := byYear[y]
		fmt.Fprintf(&b, "- %d: %.1fh, top project: %s\n", y, agg.hours, topKey(agg.projects))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) renderWeek(week int) string {
	entries, err := e.store.EntriesForWeek(week)
	if err != nil || len(entries) == 0 {
		return fmt.Sprintf("No entries found for week %d.", week)
	}

	hours := make(map[int]float64)
	counts := make(map[int]int)
	var years []int
	for _, en := range entries {
		if _, ok := hours[en.Year]; !ok {
			years = append(years, en.Year)
		}
		hours[en.Year] += en.DurationHours
		counts[en.Year]++
	}
	sort.Ints(years)

	var b strings.Builder
	fmt.Fprintf(&b, "Week %d across all years:\n", week)
	for _, y := range years {
		fmt.Fprintf(&b, "- %d: %.1fh (%d entries)\n", y, hours[y], counts[y])
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) renderMonth(month, year int) string {
	f := store.Filter{Month: month, Year: year}
	label := time.Month(month).String()
	if year > 0 {
		label = fmt.Sprintf("%s %d", label, year)
	} else {
		label += " (all years)"
	}

	sum, err := e.store.Totals(f)
	if err != nil || sum.Entries == 0 {
		return fmt.Sprintf("No entries found for %s.", label)
	}
	top, _ := e.store.TopProjects(f, 5)
	return fmt.Sprintf("%s:\n- Hours: %.1f\n- Entries: %d\n\nTop projects:\n%s",
		label, sum.Hours, sum.Entries, renderGroups(top))
}

func (e *Engine) renderProject(name string, year int) string {
	f := store.Filter{Project: name, Year: year}
	sum, err := e.store.Totals(f)
	if err != nil || sum.Entries == 0 {
		return fmt.Sprintf("No entries found for project matching %q.", name)
	}

	label := fmt.Sprintf("%q (all time)", name)
	if year > 0 {
		label = fmt.Sprintf("%q in %d", name, year)
	}
	return fmt.Sprintf("Project %s:\n- Hours: %.1f\n- Entries: %d\n- Active days: %d",
		label, sum.Hours, sum.Entries, sum.ActiveDays)
}

func (e *Engine) renderTag(name string, year int) string {
	f := store.Filter{Tag: name, Year: year}
	sum, err := e.store.Totals(f)
	if err != nil || sum.Entries == 0 {
		scope := ""
		if year > 0 {
			scope = fmt.Sprintf(" in %d", year)
		}
		return fmt.Sprintf("No entries found with tag %q%s.", name, scope)
	}

	label := fmt.Sprintf("%q (all time)", name)
	if year > 0 {
		label = fmt.Sprintf("%q in %d", name, year)
	}
	top, _ := e.store.TopProjects(f, 5)
	return fmt.Sprintf("Tag %s:\n- Hours: %.1f\n- Entries: %d\n\nTop projects with this tag:\n%s",
		label, sum.Hours, sum.Entries, renderGroups(top))
}

func (e *Engine) renderTopProjects(year int) string {
	f := store.Filter{Year: year}
	top, err := e.store.TopProjects(f, 10)
	if err != nil || len(top) == 0 {
		return "No data found."
	}
	sum, _ := e.store.Totals(f)

	scope := "All Time"
	if year > 0 {
		scope = strconv.Itoa(year)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top projects (%s):\n", scope)
	for _, g := range top {
		pct := 0.0
		if sum != nil && sum.Hours > 0 {
			pct = g.Hours / sum.Hours * 100
		}
		fmt.Fprintf(&b, "- %s: %.1fh (%.1f%%), %d entries\n", g.Name, g.Hours, pct, g.Entries)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) renderTopTags(year int) string {
	top, err := e.store.TopTags(store.Filter{Year: year}, 10)
	if err != nil || len(top) == 0 {
		return "No tagged entries found."
	}

	scope := "All Time"
	if year > 0 {
		scope = strconv.Itoa(year)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top tags (%s):\n", scope)
	for _, g := range top {
		fmt.Fprintf(&b, "- %s: %.1fh, %d entries\n", g.Name, g.Hours, g.Entries)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) renderSearch(keyword string) string {
	entries, err := e.store.Search(keyword, 20)
	if err != nil || len(entries) == 0 {
		return fmt.Sprintf("No entries found matching %q.", keyword)
	}

	var total float64
	for _, en := range entries {
		total += en.DurationHours
	}

	shown := entries
	if len(shown) > 10 {
		shown = shown[:10]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q (%d entries, %.1fh total):\n", keyword, len(entries), total)
	for _, en := range shown {
		fmt.Fprintf(&b, "- %s: %s [%s] (%.1fh)\n", en.StartDate, orNoDescription(en.Description), orNoProject(en.Project), en.DurationHours)
	}
	if len(entries) > len(shown) {
		fmt.Fprintf(&b, "...and %d more entries", len(entries)-len(shown))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) renderCompare(a, b int) string {
	side := func(year int) string {
		sum, err := e.store.Totals(store.Filter{Year: year})
		if err != nil || sum.Entries == 0 {
			return fmt.Sprintf("No data for %d.", year)
		}
		return fmt.Sprintf("- Hours: %.1f\n- Entries: %d\n- Active days: %d",
			sum.Hours, sum.Entries, sum.ActiveDays)
	}
	return fmt.Sprintf("%d vs %d:\n\n%d:\n%s\n\n%d:\n%s", a, b, a, side(a), b, side(b))
}

func (e *Engine) help() string {
	return strings.Join([]string{
		"I can answer questions about your tracked time. Try:",
		`- "How was 2024?" for a year summary`,
		`- "What did I do on March 15, 2023?" for a specific date`,
		`- "Compare 2023 and 2024" or "2023 vs 2024"`,
		`- "This week" / "Last week" / "Week 12"`,
		`- "Today" / "Yesterday" across all years`,
		`- "In February 2024" for a month summary`,
		`- "Total hours" for all-time stats`,
		`- "Top projects" / "Top projects in 2024"`,
		`- "Top tags"`,
		`- A project name on its own`,
		`- "Tag Highlight" / "Tagged Deep in 2024"`,
		`- "Search meditation" for keyword search`,
	}, "\n")
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func containsAny(q string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(q, s) {
			return true
		}
	}
	return false
}

func matchYear(q string) int {
	m := yearRe.FindStringSubmatch(q)
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}

// fuzzyMatch resolves user input to a known name: exact
// case-insensitive match first, then substring in either direction.
func fuzzyMatch(input string, known []string) string {
	lower := strings.ToLower(strings.TrimSpace(input))
	for _, k := range known {
		if strings.ToLower(k) == lower {
			return k
		}
	}
	for _, k := range known {
		kl := strings.ToLower(k)
		if strings.Contains(kl, lower) || strings.Contains(lower, kl) {
			return k
		}
	}
	return ""
}

func renderGroups(groups []store.GroupTotal) string {
	if len(groups) == 0 {
		return "  (none)"
	}
	var b strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&b, "  - %s: %.1fh\n", g.Name, g.Hours)
	}
	return strings.TrimRight(b.String(), "\n")
}

func topKey(m map[string]float64) string {
	best := "(none)"
	bestV := -1.0
	for k, v := range m {
		if v > bestV {
			best, bestV = k, v
		}
	}
	return best
}

func orNoProject(p string) string {
	if p == "" {
		return store.NoProject
	}
	return p
}

func orNoDescription(d string) string {
	if d == "" {
		return "(no description)"
	}
	return d
}
