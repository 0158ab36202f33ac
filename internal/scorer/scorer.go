package scorer

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescore/internal/config"
	"github.com/sells-group/sitescore/internal/estimate"
	"github.com/sells-group/sitescore/internal/model"
)

// NeutralScore is the total reported when no weighted factor could be
// observed at all.
const NeutralScore = 50.0

// topContributorCount is how many factors Result.TopContributors names.
const topContributorCount = 3

// Recommendation labels.
const (
	RecommendStrong   = "strong"
	RecommendModerate = "moderate"
	RecommendWeak     = "weak"
	RecommendPass     = "pass"
)

// Result is the output of scoring one feature snapshot against a concept.
type Result struct {
	Score           float64                  `json:"score"`
	Breakdown       []model.FactorScore      `json:"breakdown"`
	Revenue         estimate.RevenueEstimate `json:"revenue"`
	ConceptID       string                   `json:"concept_id,omitempty"`
	ConceptVersion  int64                    `json:"concept_version,omitempty"`
	TopContributors []model.Factor           `json:"top_contributors"`
	Recommendation  string                   `json:"recommendation"`
}

// PresentFactors returns the number of factors whose feature was observed.
func (r *Result) PresentFactors() int {
	n := 0
	for _, fs := range r.Breakdown {
		if fs.Present {
			n++
		}
	}
	return n
}

// Engine scores feature snapshots. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	curve estimate.Curve
}

// NewEngine creates an Engine from scoring configuration.
func NewEngine(cfg config.ScoringConfig) (*Engine, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Engine{curve: CurveFromConfig(cfg)}, nil
}

// Default returns an Engine using the default revenue curve.
func Default() *Engine {
	return &Engine{curve: estimate.DefaultCurve()}
}

// Curve returns the score-to-revenue curve in use.
func (e *Engine) Curve() estimate.Curve {
	return e.curve
}

// Score computes the weighted opportunity score and revenue band for
// features under concept c. It does not mutate either argument.
//
// A factor whose feature is missing is excluded and its weight is
// redistributed proportionally over the present factors.
func (e *Engine) Score(features *model.FeatureSnapshot, c *model.Concept) (*Result, error) {
	if c == nil {
		return nil, &model.InvalidConceptError{Reason: "concept is nil"}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !features.HasPopulation() && !features.HasLocation() {
		return nil, &model.MissingRequiredFeatureError{
			Missing: []string{model.FeaturePopulationDensity, "location"},
		}
	}

	breakdown := computeBreakdown(features, c)

	var presentWeight float64
	for _, fs := range breakdown {
		if fs.Present {
			presentWeight += fs.Weight
		}
	}

	total := NeutralScore
	if presentWeight > 0 {
		total = 0
		for i := range breakdown {
			fs := &breakdown[i]
			if !fs.Present {
				continue
			}
			fs.EffectiveWeight = fs.Weight / presentWeight
			fs.Contribution = fs.Score * fs.EffectiveWeight
			total += fs.Contribution
		}
	}
	total = clamp(total, 0, 100)

	rev, err := e.curve.Band(c.BaseRevenue, c.RevenueVariance, total)
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: revenue band for concept %s", c.ID)
	}

	return &Result{
		Score:           total,
		Breakdown:       breakdown,
		Revenue:         *rev,
		ConceptID:       c.ID,
		ConceptVersion:  c.Version,
		TopContributors: topContributors(breakdown, topContributorCount),
		Recommendation:  Recommendation(total),
	}, nil
}

// computeBreakdown evaluates every factor in model.Factors order. Missing
// factors are reported with Present=false and zero contribution.
func computeBreakdown(f *model.FeatureSnapshot, c *model.Concept) []model.FactorScore {
	out := make([]model.FactorScore, 0, len(model.Factors))

	add := func(factor model.Factor, in factorInput, score float64) {
		fs := model.FactorScore{
			Factor:  factor,
			Weight:  c.Weights[factor],
			Present: in.present,
		}
		if in.present {
			v := in.value
			fs.Score = clamp(score, 0, 100)
			fs.RawValue = &v
			fs.RawUnit = in.unit
			fs.Source = in.source
		}
		out = append(out, fs)
	}

	pop := populationDensity(f)
	add(model.FactorPopulation, pop, scorePopulation(pop.value, c.OptimalPopulationDensity))

	inc := incomeInput(f)
	add(model.FactorIncome, inc, scoreIncome(inc.value, c.TargetIncomeMin, c.TargetIncomeMax))

	metro, tram, acc := accessInput(f)
	add(model.FactorAccess, acc, scoreAccess(metro, tram))

	comp := competitionInput(f)
	add(model.FactorCompetition, comp, scoreCompetition(comp.value, c.TargetCompetitorsPer1k))

	walk := walkabilityInput(f)
	add(model.FactorWalkability, walk, scoreWalkability(walk.value))

	return out
}

// topContributors returns up to n present factors ordered by contribution.
func topContributors(breakdown []model.FactorScore, n int) []model.Factor {
	present := make([]model.FactorScore, 0, len(breakdown))
	for _, fs := range breakdown {
		if fs.Present {
			present = append(present, fs)
		}
	}
	sort.SliceStable(present, func(i, j int) bool {
		return present[i].Contribution > present[j].Contribution
	})
	if len(present) > n {
		present = present[:n]
	}
	out := make([]model.Factor, len(present))
	for i, fs := range present {
		out[i] = fs.Factor
	}
	return out
}

// Recommendation maps a total score to a go/no-go label.
func Recommendation(score float64) string {
	switch {
	case score >= 85:
		return RecommendStrong
	case score >= 70:
		return RecommendModerate
	case score >= 55:
		return RecommendWeak
	default:
		return RecommendPass
	}
}
