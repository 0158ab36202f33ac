package learner

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/scorer"
)

// pearson accumulates the co-moments of (x, y) pairs with Welford's
// update so correlation can be computed in one pass.
type pearson struct {
	n        int
	meanX    float64
	meanY    float64
	m2x      float64
	m2y      float64
	coMoment float64
}

func (p *pearson) add(x, y float64) {
	p.n++
	n := float64(p.n)
	dx := x - p.meanX
	p.meanX += dx / n
	dy := y - p.meanY
	p.meanY += dy / n
	p.m2x += dx * (x - p.meanX)
	p.m2y += dy * (y - p.meanY)
	p.coMoment += dx * (y - p.meanY)
}

// r returns the Pearson coefficient, or 0 when either side has no variance.
func (p *pearson) r() float64 {
	if p.n < 2 || p.m2x <= 0 || p.m2y <= 0 {
		return 0
	}
	r := p.coMoment / math.Sqrt(p.m2x*p.m2y)
	if math.IsNaN(r) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

// Accumulator folds a concept's outcome history into the statistics a
// retrain needs. Memory is one float per outcome for the median plus fixed
// state per factor.
type Accumulator struct {
	actuals   []float64
	absErrSum float64
	factors   map[model.Factor]*pearson
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	a := &Accumulator{factors: make(map[model.Factor]*pearson, len(model.Factors))}
	for _, f := range model.Factors {
		a.factors[f] = &pearson{}
	}
	return a
}

// Add folds one outcome in. Factors absent from the outcome's feature
// snapshot are skipped for that outcome only.
func (a *Accumulator) Add(o *model.Outcome) {
	a.actuals = append(a.actuals, o.ActualRevenue)
	a.absErrSum += math.Abs(o.VariancePct)

	for _, f := range model.Factors {
		if x, ok := scorer.LearningSignal(o.Features, f); ok {
			a.factors[f].add(x, o.ActualRevenue)
		}
	}
}

// Count returns the number of outcomes added.
func (a *Accumulator) Count() int {
	return len(a.actuals)
}

// Correlations returns the Pearson coefficient of each factor's signal
// against actual revenue.
func (a *Accumulator) Correlations() map[model.Factor]float64 {
	out := make(map[model.Factor]float64, len(a.factors))
	for f, p := range a.factors {
		out[f] = p.r()
	}
	return out
}

// Apply recalibrates c from the accumulated history and returns what
// changed. It returns nil, leaving c untouched, below the training
// threshold.
func (a *Accumulator) Apply(c *model.Concept, cfg Config, now time.Time) *Report {
	n := a.Count()
	if n == 0 || n < cfg.MinOutcomesForTraining {
		return nil
	}

	mape := a.absErrSum / float64(n)
	report := &Report{
		ConceptID:           c.ID,
		OutcomesCount:       n,
		PreviousBaseRevenue: c.BaseRevenue,
		NewBaseRevenue:      median(a.actuals),
		PreviousVariance:    c.RevenueVariance,
		NewVariance:         VarianceForError(mape),
		AvgPredictionError:  mape,
		TrainedAt:           now,
	}

	if n >= cfg.MinOutcomesForWeights {
		report.Correlations = a.Correlations()
		if w, ok := weightsFromCorrelations(report.Correlations); ok {
			report.WeightsUpdated = true
			report.NewWeights = w
		}
	}

	c.BaseRevenue = report.NewBaseRevenue
	c.RevenueVariance = report.NewVariance
	c.AvgPredictionError = &mape
	c.LastTrainedAt = &now
	c.OutcomesCount = n
	if report.WeightsUpdated {
		c.Weights = report.NewWeights.Clone()
	}
	return report
}

// weightsFromCorrelations normalises |r| per factor to sum to 1. It
// reports false when every correlation is zero.
func weightsFromCorrelations(corr map[model.Factor]float64) (model.Weights, bool) {
	var total float64
	for _, f := range model.Factors {
		total += math.Abs(corr[f])
	}
	if total == 0 {
		return nil, false
	}

	w := make(model.Weights, len(model.Factors))
	for _, f := range model.Factors {
		w[f] = math.Abs(corr[f]) / total
	}
	if w.Validate() != nil {
		return nil, false
	}
	return w, true
}

// VarianceForError maps a mean absolute percentage error to the revenue
// band half-width. It is recomputed on every retrain and may widen.
func VarianceForError(mape float64) float64 {
	switch {
	case mape < 10:
		return 0.10
	case mape < 15:
		return 0.12
	case mape < 20:
		return 0.15
	default:
		return 0.18
	}
}

// median returns the middle value of xs, averaging the two middle values
// for even lengths. xs is not modified.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
