package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescore/internal/model"
)

func snapshot(values map[string]float64) *model.FeatureSnapshot {
	return &model.FeatureSnapshot{Values: values}
}

func TestCoverage(t *testing.T) {
	calc := New(50)

	tests := []struct {
		name   string
		values map[string]float64
		want   Coverage
	}{
		{
			name:   "empty",
			values: nil,
			want:   Coverage{},
		},
		{
			name: "complete",
			values: map[string]float64{
				model.FeaturePopulation1km:         12000,
				model.FeaturePopulationDensity:     9000,
				model.FeatureMedianIncome:          42000,
				model.FeatureCompetitorsCount:      8,
				model.FeatureCompetitorsPer1k:      0.7,
				model.FeatureNearestMetroDistanceM: 300,
				model.FeatureNearestTramDistanceM:  120,
				model.FeatureWalkabilityPOICount:   80,
			},
			want: Coverage{Demographics: 1, Competition: 1, Transit: 1, Overall: 1},
		},
		{
			name: "partial",
			values: map[string]float64{
				model.FeaturePopulationDensity:     9000,
				model.FeatureCompetitorsCount:      8,
				model.FeatureNearestMetroDistanceM: 300,
				model.FeatureWalkabilityPOICount:   80,
			},
			want: Coverage{
				Demographics: 1.0 / 3,
				Competition:  0.5,
				Transit:      2.0 / 3,
				Overall:      0.4/3 + 0.15 + 0.2,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Coverage(snapshot(tt.values))
			assert.InDelta(t, tt.want.Demographics, got.Demographics, 1e-9)
			assert.InDelta(t, tt.want.Competition, got.Competition, 1e-9)
			assert.InDelta(t, tt.want.Transit, got.Transit, 1e-9)
			assert.InDelta(t, tt.want.Overall, got.Overall, 1e-9)
		})
	}
}

func TestConfidence_EmptyBreakdown(t *testing.T) {
	var calc Calculator
	assert.Equal(t, 0.0, calc.Confidence(nil, Coverage{Overall: 1}))
}

func TestConfidence_UniformScores(t *testing.T) {
	calc := New(50)
	breakdown := make([]model.FactorScore, 0, len(model.Factors))
	for _, f := range model.Factors {
		breakdown = append(breakdown, model.FactorScore{Factor: f, Score: 80, Present: true})
	}

	got := calc.Confidence(breakdown, Coverage{Overall: 1})
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestConfidence_SpreadAndMissing(t *testing.T) {
	calc := New(50)
	breakdown := []model.FactorScore{
		{Factor: model.FactorPopulation, Score: 100, Present: true},
		{Factor: model.FactorIncome, Score: 50, Present: true},
		{Factor: model.FactorAccess, Present: false},
		{Factor: model.FactorCompetition, Present: false},
		{Factor: model.FactorWalkability, Present: false},
	}

	// std(100, 50) = 25 -> consistency 0.5; completeness 2/5.
	want := 0.4*0.5 + 0.3*0.5 + 0.3*0.4
	got := calc.Confidence(breakdown, Coverage{Overall: 0.5})
	assert.InDelta(t, want, got, 1e-9)
}

func TestConfidence_MissingLowersConfidence(t *testing.T) {
	calc := New(50)
	full := make([]model.FactorScore, 0, len(model.Factors))
	for _, f := range model.Factors {
		full = append(full, model.FactorScore{Factor: f, Score: 70, Present: true})
	}
	partial := append([]model.FactorScore(nil), full...)
	partial[4].Present = false

	cov := Coverage{Overall: 0.8}
	assert.Less(t, calc.Confidence(partial, cov), calc.Confidence(full, cov))
}

func TestConfidence_BoundedWhenSpreadExceedsNorm(t *testing.T) {
	calc := New(10)
	breakdown := []model.FactorScore{
		{Factor: model.FactorPopulation, Score: 100, Present: true},
		{Factor: model.FactorIncome, Score: 0, Present: true},
	}
	got := calc.Confidence(breakdown, Coverage{Overall: 2})
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)
	assert.InDelta(t, 0.4+0.3*0.4, got, 1e-9)
}

func TestMethodInfo(t *testing.T) {
	calc := New(50)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f := &model.FeatureSnapshot{
		Values: map[string]float64{
			model.FeaturePopulationDensity:     9000,
			model.FeatureMedianIncome:          42000,
			model.FeatureNearestMetroDistanceM: 300,
		},
		Sources: map[string]string{
			model.FeatureMedianIncome: "PAAVO 2024",
		},
	}

	info := calc.MethodInfo(f, now)
	assert.Equal(t, ScoringMethod, info.ScoringMethod)
	assert.Equal(t, now, info.LastUpdated)
	assert.Equal(t, []string{"OpenStreetMap (transit)", "PAAVO 2024", "Population grid (1km)"}, info.DataSources)
	assert.NotEmpty(t, info.ConfidenceBasis)

	empty := calc.MethodInfo(nil, now)
	assert.Equal(t, []string{"Limited data available"}, empty.DataSources)
}

func TestHighlights(t *testing.T) {
	f := snapshot(map[string]float64{
		model.FeaturePopulation1km:         25000,
		model.FeatureMedianIncome:          52000,
		model.FeatureNearestMetroDistanceM: 180,
		model.FeatureCompetitorsCount:      3,
	})

	got := Highlights(f)
	require.Len(t, got, 4)
	assert.Equal(t, "High population density: 25,000 people in 1km radius", got[0])
	assert.Equal(t, "High median income: €52,000/year supports premium pricing", got[1])
	assert.Equal(t, "Excellent transit: Metro station 180m away", got[2])
	assert.Equal(t, "Low competition: Only 3 competitors nearby", got[3])

	assert.Empty(t, Highlights(nil))
}
