package outcome

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Column headers recognised in an outcome sheet. Matching ignores case and
// surrounding space.
const (
	ColPredictionID  = "prediction_id"
	ColActualRevenue = "actual_revenue"
	ColOpenedAt      = "opened_at"
	ColNotes         = "notes"
)

// Row is one parsed sheet line. Err is set when the line could not be
// parsed; Line is 1-based and counts the header.
type Row struct {
	Line   int
	Params Params
	Err    error
}

// ReadSheet loads outcome rows from an .xlsx or .csv file. The first row
// must be a header naming at least prediction_id, actual_revenue and
// opened_at.
func ReadSheet(path string) ([]Row, error) {
	var records [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		records, err = readXLSX(path)
	case ".csv":
		records, err = readCSVFile(path)
	default:
		return nil, eris.Errorf("outcome: unsupported sheet type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return parseRecords(records)
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "outcome: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("outcome: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	return records, nil
}

func readCSVFile(path string) ([][]string, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, eris.Wrap(err, "outcome: open csv")
	}
	defer f.Close() //nolint:errcheck
	return readCSV(f)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "outcome: read csv")
	}
	return records, nil
}

func parseRecords(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, eris.New("outcome: sheet is empty")
	}

	cols := make(map[string]int)
	for i, h := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{ColPredictionID, ColActualRevenue, ColOpenedAt} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("outcome: sheet is missing column %q", required)
		}
	}

	get := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row := Row{Line: i + 2}
		row.Params.PredictionID = get(rec, ColPredictionID)
		row.Params.Notes = get(rec, ColNotes)

		revenue, err := parseAmount(get(rec, ColActualRevenue))
		if err != nil {
			row.Err = eris.Wrapf(err, "line %d: actual_revenue", row.Line)
			rows = append(rows, row)
			continue
		}
		row.Params.ActualRevenue = revenue

		opened, err := parseDate(get(rec, ColOpenedAt))
		if err != nil {
			row.Err = eris.Wrapf(err, "line %d: opened_at", row.Line)
			rows = append(rows, row)
			continue
		}
		row.Params.OpenedAt = opened

		rows = append(rows, row)
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseAmount accepts plain numbers with optional thousands separators
// (comma, space or underscore) and a trailing currency sign.
func parseAmount(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "€")
	s = strings.NewReplacer(",", "", " ", "", "_", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("invalid amount %q", s)
	}
	return v, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/06",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("invalid date %q", s)
}
