package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/sitescore/internal/estimate"
	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/outcome"
	"github.com/sells-group/sitescore/internal/predict"
)

func TestFormatRanked(t *testing.T) {
	var buf bytes.Buffer
	formatRanked(&buf, []predict.Ranked{
		{Rank: 1, Label: "kamppi", Response: &predict.Response{
			Score:          92.5,
			Recommendation: "Excellent",
			Revenue:        estimate.RevenueEstimate{Mid: 1_750_000},
			Confidence:     0.81,
		}},
		{Label: "kallio", Err: errors.New("boom"), Error: "boom"},
	})

	out := buf.String()
	assert.Contains(t, out, "RANK")
	assert.Regexp(t, `1\s+kamppi\s+92\.5\s+€1\.75M\s+81%\s+Excellent`, out)
	assert.Regexp(t, `-\s+kallio.*error: boom`, out)
}

func TestFormatConcepts(t *testing.T) {
	var buf bytes.Buffer
	formatConcepts(&buf, []*model.Concept{
		{ID: "123456789abc", TenantID: "system", Category: "QSR", Name: "Quick Service Restaurant", BaseRevenue: 1_600_000, IsSystemDefault: true, IsActive: true, Version: 1},
		{ID: "abc", TenantID: "t1", Category: "Coffee", Name: "A very long concept name that will be cut", BaseRevenue: 650_000, Version: 4},
	})

	out := buf.String()
	assert.Contains(t, out, "12345678 ")
	assert.NotContains(t, out, "123456789abc")
	assert.Contains(t, out, "system")
	assert.Contains(t, out, "inactive")
	assert.Contains(t, out, "A very long concept name th...")
	assert.Contains(t, out, "€1.60M")
}

func TestFormatImport(t *testing.T) {
	var buf bytes.Buffer
	formatImport(&buf, &outcome.ImportSummary{
		Rows: []outcome.ImportResult{
			{Line: 2},
			{Line: 3, Error: "prediction not found"},
		},
		Recorded: 1,
		Failed:   1,
	})

	out := buf.String()
	assert.Regexp(t, `Recorded:\s+1`, out)
	assert.Regexp(t, `Failed:\s+1`, out)
	assert.Contains(t, out, "line 3: prediction not found")
	assert.NotContains(t, out, "line 2")
}

func TestJoinOrNone(t *testing.T) {
	assert.Equal(t, "none", joinOrNone(nil))
	assert.Equal(t, "QSR, Coffee", joinOrNone([]string{"QSR", "Coffee"}))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijkl"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
