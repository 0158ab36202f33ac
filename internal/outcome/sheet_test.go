package outcome

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Outcomes")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "outcomes.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func createTestCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outcomes.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadSheet_CSV(t *testing.T) {
	path := createTestCSV(t, strings.Join([]string{
		"Prediction_ID, Actual_Revenue, Opened_At, Notes",
		`p-1,"1,500,000",2026-06-01,first store`,
		"p-2,1 400 000 €,2026-06-15T10:00:00Z,",
		",,,",
		"p-3,1450000,06/30/2026,",
	}, "\n"))

	rows, err := ReadSheet(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "p-1", rows[0].Params.PredictionID)
	assert.Equal(t, 1_500_000.0, rows[0].Params.ActualRevenue)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), rows[0].Params.OpenedAt)
	assert.Equal(t, "first store", rows[0].Params.Notes)
	assert.NoError(t, rows[0].Err)

	assert.Equal(t, 1_400_000.0, rows[1].Params.ActualRevenue)
	assert.Equal(t, time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC), rows[1].Params.OpenedAt)

	assert.Equal(t, 5, rows[2].Line)
	assert.Equal(t, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC), rows[2].Params.OpenedAt)
}

func TestReadSheet_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"prediction_id", "actual_revenue", "opened_at"},
		{"p-1", "1500000", "2026-06-01"},
		{"p-2", "1450000.50", "2026-07-01 09:30:00"},
	})

	rows, err := ReadSheet(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "p-1", rows[0].Params.PredictionID)
	assert.Equal(t, 1_500_000.0, rows[0].Params.ActualRevenue)
	assert.Equal(t, 1_450_000.50, rows[1].Params.ActualRevenue)
	assert.Equal(t, time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC), rows[1].Params.OpenedAt)
	assert.Empty(t, rows[1].Params.Notes)
}

func TestReadSheet_RowErrors(t *testing.T) {
	path := createTestCSV(t, strings.Join([]string{
		"prediction_id,actual_revenue,opened_at",
		"p-1,lots,2026-06-01",
		"p-2,1500000,next spring",
		"p-3,1500000,2026-06-01",
	}, "\n"))

	rows, err := ReadSheet(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Error(t, rows[0].Err)
	assert.Contains(t, rows[0].Err.Error(), "line 2: actual_revenue")
	require.Error(t, rows[1].Err)
	assert.Contains(t, rows[1].Err.Error(), "line 3: opened_at")
	assert.NoError(t, rows[2].Err)
}

func TestReadSheet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr string
	}{
		{
			name: "missing column",
			path: func(t *testing.T) string {
				return createTestCSV(t, "prediction_id,opened_at\np-1,2026-06-01\n")
			},
			wantErr: `missing column "actual_revenue"`,
		},
		{
			name:    "empty",
			path:    func(t *testing.T) string { return createTestCSV(t, "") },
			wantErr: "sheet is empty",
		},
		{
			name: "unsupported type",
			path: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "outcomes.json")
			},
			wantErr: "unsupported sheet type",
		},
		{
			name: "missing file",
			path: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "nope.xlsx")
			},
			wantErr: "outcome: open xlsx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSheet(tt.path(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "1500000", want: 1_500_000},
		{in: "1,500,000", want: 1_500_000},
		{in: "1 500 000 €", want: 1_500_000},
		{in: "1_250_000.75", want: 1_250_000.75},
		{in: "", wantErr: true},
		{in: "n/a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
