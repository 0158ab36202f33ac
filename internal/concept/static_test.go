package concept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescore/internal/model"
)

func TestCategories(t *testing.T) {
	assert.Equal(t, []string{"CasualDining", "Coffee", "FastCasual", "QSR"}, Categories())
}

func TestStaticConcept(t *testing.T) {
	c, ok := StaticConcept("QSR")
	require.True(t, ok)
	assert.Empty(t, c.ID)
	assert.Equal(t, model.SystemTenant, c.TenantID)
	assert.Equal(t, 1_600_000.0, c.BaseRevenue)
	assert.Equal(t, model.InitialRevenueVariance, c.RevenueVariance)
	assert.NoError(t, c.Validate())

	// Callers get copies.
	c.Weights[model.FactorPopulation] = 1
	again, _ := StaticConcept("QSR")
	assert.Equal(t, 0.30, again.Weights[model.FactorPopulation])

	_, ok = StaticConcept("Sushi")
	assert.False(t, ok)
}

func TestParseStatic(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid",
			yaml: `
Test:
  name: Test
  base_revenue: 100
  target_income_min: 1
  target_income_max: 2
  optimal_population_density: 10
  target_competitors_per_1k: 1
  weights: {population: 0.2, income: 0.2, access: 0.2, competition: 0.2, walkability: 0.2}
`,
		},
		{
			name: "bad weights",
			yaml: `
Test:
  name: Test
  base_revenue: 100
  target_income_max: 2
  optimal_population_density: 10
  target_competitors_per_1k: 1
  weights: {population: 0.5, income: 0.2, access: 0.2, competition: 0.2, walkability: 0.2}
`,
			wantErr: "static entry Test",
		},
		{
			name:    "malformed",
			yaml:    "Test: [",
			wantErr: "parse static table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseStatic([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, table, "Test")
		})
	}
}
