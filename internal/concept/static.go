package concept

import (
	_ "embed"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sitescore/internal/model"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// staticEntry is one category of defaults.yaml.
type staticEntry struct {
	Name                     string             `yaml:"name"`
	Description              string             `yaml:"description"`
	BaseRevenue              float64            `yaml:"base_revenue"`
	TargetIncomeMin          float64            `yaml:"target_income_min"`
	TargetIncomeMax          float64            `yaml:"target_income_max"`
	OptimalPopulationDensity float64            `yaml:"optimal_population_density"`
	TargetCompetitorsPer1k   float64            `yaml:"target_competitors_per_1k"`
	Weights                  map[string]float64 `yaml:"weights"`
}

var (
	staticOnce  sync.Once
	staticTable map[string]*model.Concept
	staticErr   error
)

// ParseStatic decodes a static concept table. Every entry is validated.
func ParseStatic(data []byte) (map[string]*model.Concept, error) {
	var raw map[string]staticEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "concept: parse static table")
	}

	out := make(map[string]*model.Concept, len(raw))
	for category, e := range raw {
		w := make(model.Weights, len(e.Weights))
		for k, v := range e.Weights {
			w[model.Factor(k)] = v
		}
		c := &model.Concept{
			TenantID:                 model.SystemTenant,
			Name:                     e.Name,
			Description:              e.Description,
			Category:                 category,
			BaseRevenue:              e.BaseRevenue,
			RevenueVariance:          model.InitialRevenueVariance,
			TargetIncomeMin:          e.TargetIncomeMin,
			TargetIncomeMax:          e.TargetIncomeMax,
			OptimalPopulationDensity: e.OptimalPopulationDensity,
			TargetCompetitorsPer1k:   e.TargetCompetitorsPer1k,
			Weights:                  w,
			IsActive:                 true,
		}
		if err := c.Validate(); err != nil {
			return nil, eris.Wrapf(err, "concept: static entry %s", category)
		}
		out[category] = c
	}
	return out, nil
}

func loadStatic() (map[string]*model.Concept, error) {
	staticOnce.Do(func() {
		staticTable, staticErr = ParseStatic(defaultsYAML)
	})
	return staticTable, staticErr
}

// StaticConcept returns a copy of the built-in parameters for category.
// The copy has no ID and is never persisted by resolution.
func StaticConcept(category string) (*model.Concept, bool) {
	table, err := loadStatic()
	if err != nil {
		return nil, false
	}
	c, ok := table[category]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Categories lists the categories of the built-in table in sorted order.
func Categories() []string {
	table, err := loadStatic()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(table))
	for k := range table {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
