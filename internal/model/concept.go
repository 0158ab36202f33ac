package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// SystemTenant owns the system default concepts seeded at bootstrap.
const SystemTenant = "system"

// InitialRevenueVariance is the uncertainty band a concept starts with (±20%).
const InitialRevenueVariance = 0.20

// WeightTolerance is the allowed deviation of a weight sum from 1.0.
const WeightTolerance = 1e-6

// Factor names one of the five scoring factors.
type Factor string

// Scoring factors. A Concept carries a weight for exactly these.
const (
	FactorPopulation  Factor = "population"
	FactorIncome      Factor = "income"
	FactorAccess      Factor = "access"
	FactorCompetition Factor = "competition"
	FactorWalkability Factor = "walkability"
)

// Factors lists every scoring factor in display order.
var Factors = []Factor{
	FactorPopulation,
	FactorIncome,
	FactorAccess,
	FactorCompetition,
	FactorWalkability,
}

// Weights maps each scoring factor to its share of the total score.
type Weights map[Factor]float64

// Validate checks that w holds exactly the five factors, each non-negative
// and finite, summing to 1.0 within WeightTolerance.
func (w Weights) Validate() error {
	var problems []string

	if len(w) != len(Factors) {
		problems = append(problems, fmt.Sprintf("expected %d factors, got %d", len(Factors), len(w)))
	}

	var sum float64
	for _, f := range Factors {
		v, ok := w[f]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing factor %q", f))
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			problems = append(problems, fmt.Sprintf("%s weight is not finite", f))
			continue
		}
		if v < 0 {
			problems = append(problems, fmt.Sprintf("%s weight must be >= 0", f))
		}
		sum += v
	}
	for f := range w {
		if !f.Valid() {
			problems = append(problems, fmt.Sprintf("unknown factor %q", f))
		}
	}
	if math.Abs(sum-1) > WeightTolerance {
		problems = append(problems, fmt.Sprintf("weights must sum to 1.0, got %.6f", sum))
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return &InvalidConceptError{Reason: strings.Join(problems, "; ")}
	}
	return nil
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

// Clone returns an independent copy of w.
func (w Weights) Clone() Weights {
	if w == nil {
		return nil
	}
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Valid reports whether f is one of the known scoring factors.
func (f Factor) Valid() bool {
	for _, known := range Factors {
		if f == known {
			return true
		}
	}
	return false
}

// Concept is a versioned bundle of scoring parameters for one tenant and
// category. Learning metadata is mutated only by the learner.
type Concept struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`

	BaseRevenue     float64 `json:"base_revenue"`
	RevenueVariance float64 `json:"revenue_variance"`

	TargetIncomeMin          float64 `json:"target_income_min"`
	TargetIncomeMax          float64 `json:"target_income_max"`
	OptimalPopulationDensity float64 `json:"optimal_population_density"`
	TargetCompetitorsPer1k   float64 `json:"target_competitors_per_1k"`

	Weights Weights `json:"weights"`

	OutcomesCount      int        `json:"outcomes_count"`
	AvgPredictionError *float64   `json:"avg_prediction_error"`
	LastTrainedAt      *time.Time `json:"last_trained_at"`

	IsSystemDefault bool `json:"is_system_default"`
	IsActive        bool `json:"is_active"`

	// Version is the optimistic-lock revision, bumped on every save.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the concept's parameter invariants.
func (c *Concept) Validate() error {
	if c == nil {
		return &InvalidConceptError{Reason: "concept is nil"}
	}
	if err := c.Weights.Validate(); err != nil {
		if ice, ok := err.(*InvalidConceptError); ok {
			ice.ConceptID = c.ID
		}
		return err
	}

	var problems []string
	if strings.TrimSpace(c.Category) == "" {
		problems = append(problems, "category is required")
	}
	if !(c.BaseRevenue > 0) {
		problems = append(problems, "base_revenue must be > 0")
	}
	if !(c.RevenueVariance > 0 && c.RevenueVariance <= 1) {
		problems = append(problems, "revenue_variance must be in (0, 1]")
	}
	if c.TargetIncomeMin < 0 {
		problems = append(problems, "target_income_min must be >= 0")
	}
	if c.TargetIncomeMax < c.TargetIncomeMin {
		problems = append(problems, "target_income_max must be >= target_income_min")
	}
	if !(c.OptimalPopulationDensity > 0) {
		problems = append(problems, "optimal_population_density must be > 0")
	}
	if !(c.TargetCompetitorsPer1k > 0) {
		problems = append(problems, "target_competitors_per_1k must be > 0")
	}
	if c.OutcomesCount < 0 {
		problems = append(problems, "outcomes_count must be >= 0")
	}

	if len(problems) > 0 {
		return &InvalidConceptError{ConceptID: c.ID, Reason: strings.Join(problems, "; ")}
	}
	return nil
}

// Clone returns a deep copy of c so callers never share mutable state
// with a repository.
func (c *Concept) Clone() *Concept {
	if c == nil {
		return nil
	}
	out := *c
	out.Weights = c.Weights.Clone()
	if c.AvgPredictionError != nil {
		v := *c.AvgPredictionError
		out.AvgPredictionError = &v
	}
	if c.LastTrainedAt != nil {
		t := *c.LastTrainedAt
		out.LastTrainedAt = &t
	}
	return &out
}

// Trained reports whether the learner has fitted this concept at least once.
func (c *Concept) Trained() bool {
	return c.LastTrainedAt != nil
}
