package learner

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/store"
)

// Training status labels reported by Stats.
const (
	StatusNoOutcomes = "no_outcomes"
	StatusLearning   = "learning"
	StatusMature     = "mature"
)

// Stats summarises a concept's prediction accuracy.
type Stats struct {
	ConceptID          string        `json:"concept_id"`
	ConceptName        string        `json:"concept_name"`
	OutcomesCount      int           `json:"outcomes_count"`
	AvgPredictionError *float64      `json:"avg_prediction_error"`
	RevenueVariance    float64       `json:"revenue_variance"`
	BaseRevenue        float64       `json:"base_revenue"`
	LastTrainedAt      *time.Time    `json:"last_trained_at"`
	MedianVariancePct  *float64      `json:"median_variance_pct,omitempty"`
	WorstVariancePct   *float64      `json:"worst_variance_pct,omitempty"`
	BestVariancePct    *float64      `json:"best_variance_pct,omitempty"`
	WithinBandCount    int           `json:"within_band_count"`
	Weights            model.Weights `json:"weights"`
	Status             string        `json:"status"`
}

// Stats reports accuracy figures for conceptID from its outcome history.
// An outcome is within band when its absolute variance does not exceed
// the concept's current revenue variance.
func (l *Learner) Stats(ctx context.Context, conceptID string) (*Stats, error) {
	c, err := l.repo.LoadConcept(ctx, conceptID)
	if err != nil {
		return nil, err
	}

	s := &Stats{
		ConceptID:          c.ID,
		ConceptName:        c.Name,
		AvgPredictionError: c.AvgPredictionError,
		RevenueVariance:    c.RevenueVariance,
		BaseRevenue:        c.BaseRevenue,
		LastTrainedAt:      c.LastTrainedAt,
		Weights:            c.Weights,
		Status:             StatusNoOutcomes,
	}

	var absErrs []float64
	bandPct := c.RevenueVariance * 100
	err = store.EachOutcome(ctx, l.repo, conceptID, l.cfg.PageSize, func(o *model.Outcome) error {
		e := math.Abs(o.VariancePct)
		absErrs = append(absErrs, e)
		if e <= bandPct {
			s.WithinBandCount++
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "learner: stats for concept %s", conceptID)
	}

	s.OutcomesCount = len(absErrs)
	if s.OutcomesCount == 0 {
		return s, nil
	}

	med := median(absErrs)
	worst, best := absErrs[0], absErrs[0]
	for _, e := range absErrs[1:] {
		worst = math.Max(worst, e)
		best = math.Min(best, e)
	}
	s.MedianVariancePct = &med
	s.WorstVariancePct = &worst
	s.BestVariancePct = &best

	if s.OutcomesCount < MatureOutcomes {
		s.Status = StatusLearning
	} else {
		s.Status = StatusMature
	}
	return s, nil
}
