package videos

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// CSV layouts recognised by ParseCSV.
const (
	CSVFormatDreemz  = "dreemz"
	CSVFormatGeneric = "generic"
)

// CSVRow is one video reference read from an import file. Rows with a non-nil
// Err are reported and skipped by the importer.
type CSVRow struct {
	Line     int
	URL      string
	Title    string
	Metadata map[string]any
	Err      error
}

// Source returns the row as a URL source.
func (r CSVRow) Source() URLSource {
	return URLSource{URL: r.URL, Metadata: r.Metadata}
}

// ParseCSV reads every row of an import file. A file with neither a
// mediaSharePath nor a video_url column is rejected with ErrMissingURLColumn.
func ParseCSV(r io.Reader) (string, []CSVRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil, ErrMissingURLColumn
		}
		return "", nil, fmt.Errorf("read csv header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		header[i] = name
		if _, seen := columns[name]; !seen {
			columns[name] = i
		}
	}

	var format string
	switch {
	case hasColumn(columns, "mediaSharePath"):
		format = CSVFormatDreemz
	case hasColumn(columns, "video_url"):
		format = CSVFormatGeneric
	default:
		return "", nil, ErrMissingURLColumn
	}

	var rows []CSVRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rows = append(rows, CSVRow{Line: parseErr.Line, Err: err})
				continue
			}
			return "", nil, fmt.Errorf("read csv: %w", err)
		}
		if blankRecord(record) {
			continue
		}
		line, _ := reader.FieldPos(0)

		var row CSVRow
		if format == CSVFormatDreemz {
			row = parseDreemzRow(columns, record)
		} else {
			row = parseGenericRow(header, columns, record)
		}
		row.Line = line
		rows = append(rows, row)
	}

	return format, rows, nil
}

func parseDreemzRow(columns map[string]int, record []string) CSVRow {
	row := CSVRow{
		URL:      field(columns, record, "mediaSharePath"),
		Title:    field(columns, record, "title"),
		Metadata: map[string]any{},
	}
	row.Metadata["title"] = row.Title

	if relateID := field(columns, record, "relateId"); relateID != "" {
		row.Metadata["relateId"] = relateID
	}

	if raw := field(columns, record, "score"); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
			row.Err = fmt.Errorf("invalid score %q", raw)
			return row
		}
		row.Metadata["score"] = int(score)
	}

	if row.URL == "" {
		row.Err = errors.New("missing mediaSharePath")
	}
	return row
}

func parseGenericRow(header []string, columns map[string]int, record []string) CSVRow {
	row := CSVRow{
		URL:      field(columns, record, "video_url"),
		Title:    field(columns, record, "title"),
		Metadata: map[string]any{},
	}

	for i, name := range header {
		if i >= len(record) || name == "" {
			continue
		}
		switch name {
		case "video_url", "title", "metadata":
			continue
		}
		if value := strings.TrimSpace(record[i]); value != "" {
			row.Metadata[name] = value
		}
	}

	if raw := field(columns, record, "metadata"); raw != "" {
		var extra map[string]any
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			row.Err = fmt.Errorf("invalid metadata json: %w", err)
			return row
		}
		for key, value := range extra {
			row.Metadata[key] = value
		}
	}

	if row.Title != "" {
		row.Metadata["title"] = row.Title
	}

	if row.URL == "" {
		row.Err = errors.New("missing video_url")
	}
	return row
}

func hasColumn(columns map[string]int, name string) bool {
	_, ok := columns[name]
	return ok
}

func field(columns map[string]int, record []string, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func blankRecord(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}
