package toggl

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RawEntry is one row of the CSV export, untouched beyond field
// extraction. Normalization and identity live downstream.
type RawEntry struct {
	Description     string
	Start           string // "YYYY-MM-DDTHH:MM:SS"
	Stop            string
	DurationSeconds int
	Project         string
	Tags            string // comma-separated
	Billable        bool
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseExport parses a detailed-report CSV export into raw rows.
// An empty body means the period had no entries and yields zero rows;
// a body that is present but not a recognizable export is a FormatError.
func ParseExport(data []byte) ([]RawEntry, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("read header: %v", err)}
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	if _, ok := col["Start date"]; !ok {
		return nil, &FormatError{Reason: "export has no Start date column"}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []RawEntry
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("read row: %v", err)}
		}

		rows = append(rows, RawEntry{
			Description:     field(record, "Description"),
			Start:           joinTimestamp(field(record, "Start date"), field(record, "Start time")),
			Stop:            joinTimestamp(field(record, "End date"), field(record, "End time")),
			DurationSeconds: parseDuration(field(record, "Duration")),
			Project:         field(record, "Project"),
			Tags:            field(record, "Tags"),
			Billable:        field(record, "Billable") == "Yes",
		})
	}
	return rows, nil
}

func joinTimestamp(date, clock string) string {
	if date == "" {
		return ""
	}
	if clock == "" {
		clock = "00:00:00"
	}
	return date + "T" + clock
}

// parseDuration converts the export's "HH:MM:SS" field to seconds.
// Unparseable values become zero; the interval itself is authoritative.
func parseDuration(s string) int {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return h*3600 + m*60 + sec
}
