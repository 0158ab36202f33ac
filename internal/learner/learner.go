// Package learner recalibrates concepts from realised outcomes: median base
// revenue, mean absolute percentage error, the revenue band and, with enough
// history, factor weights proportional to their correlation with revenue.
package learner

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sitescore/internal/config"
	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/resilience"
	"github.com/sells-group/sitescore/internal/store"
)

// Training thresholds.
const (
	DefaultMinOutcomesForTraining = 5
	DefaultMinOutcomesForWeights  = 20
	// MatureOutcomes is the history size at which a concept counts as mature.
	MatureOutcomes = 50
)

// Config holds training thresholds.
type Config struct {
	MinOutcomesForTraining int
	MinOutcomesForWeights  int
	PageSize               int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinOutcomesForTraining: DefaultMinOutcomesForTraining,
		MinOutcomesForWeights:  DefaultMinOutcomesForWeights,
		PageSize:               store.DefaultOutcomePageSize,
	}
}

// ConfigFrom converts application config, filling zero values with defaults.
func ConfigFrom(c config.LearnerConfig) Config {
	out := DefaultConfig()
	if c.MinOutcomesForTraining > 0 {
		out.MinOutcomesForTraining = c.MinOutcomesForTraining
	}
	if c.MinOutcomesForWeights > 0 {
		out.MinOutcomesForWeights = c.MinOutcomesForWeights
	}
	if c.PageSize > 0 {
		out.PageSize = c.PageSize
	}
	return out
}

// Report describes one retrain.
type Report struct {
	ConceptID           string                   `json:"concept_id"`
	OutcomesCount       int                      `json:"outcomes_count"`
	PreviousBaseRevenue float64                  `json:"previous_base_revenue"`
	NewBaseRevenue      float64                  `json:"new_base_revenue"`
	PreviousVariance    float64                  `json:"previous_variance"`
	NewVariance         float64                  `json:"new_variance"`
	AvgPredictionError  float64                  `json:"avg_prediction_error"`
	WeightsUpdated      bool                     `json:"weights_updated"`
	NewWeights          model.Weights            `json:"new_weights,omitempty"`
	Correlations        map[model.Factor]float64 `json:"correlations,omitempty"`
	TrainedAt           time.Time                `json:"trained_at"`
}

// Learner retrains concepts against a Repository.
type Learner struct {
	repo  store.Repository
	cfg   Config
	retry resilience.RetryConfig
	now   func() time.Time
}

// Option configures a Learner.
type Option func(*Learner)

// WithClock overrides the training timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) {
		l.now = now
	}
}

// WithRetry sets the optimistic-lock retry budget for Retrain.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(l *Learner) {
		l.retry = resilience.ConflictRetryConfig(maxAttempts, backoff)
	}
}

// New creates a Learner.
func New(repo store.Repository, cfg Config, opts ...Option) *Learner {
	l := &Learner{
		repo:  repo,
		cfg:   cfg,
		retry: resilience.ConflictRetryConfig(3, resilience.DefaultConflictBackoff),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the learner's thresholds.
func (l *Learner) Config() Config {
	return l.cfg
}

// Fit recalibrates c in place from outcomes without touching the store.
// It returns nil below the training threshold.
func (l *Learner) Fit(c *model.Concept, outcomes []model.Outcome) *Report {
	acc := NewAccumulator()
	for i := range outcomes {
		acc.Add(&outcomes[i])
	}
	return acc.Apply(c, l.cfg, l.now())
}

// Refit recalibrates c in place from its stored history plus extra
// outcomes not yet persisted. History is streamed page by page.
func (l *Learner) Refit(ctx context.Context, c *model.Concept, extra ...*model.Outcome) (*Report, error) {
	acc := NewAccumulator()
	err := store.EachOutcome(ctx, l.repo, c.ID, l.cfg.PageSize, func(o *model.Outcome) error {
		acc.Add(o)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "learner: load outcomes for concept %s", c.ID)
	}
	for _, o := range extra {
		acc.Add(o)
	}
	return acc.Apply(c, l.cfg, l.now()), nil
}

// Retrain recomputes conceptID from its full history and saves it with
// its outcomes marked as used. It returns nil when the history is below
// the training threshold.
func (l *Learner) Retrain(ctx context.Context, conceptID string) (*Report, error) {
	var report *Report
	err := resilience.RetryOnConflict(ctx, l.retry, conceptID, func(ctx context.Context) error {
		c, err := l.repo.LoadConcept(ctx, conceptID)
		if err != nil {
			return err
		}
		expected := c.Version

		report, err = l.Refit(ctx, c)
		if err != nil || report == nil {
			return err
		}
		return l.repo.CommitTraining(ctx, c, expected)
	})
	if err != nil {
		return nil, err
	}

	if report != nil {
		LogReport(report)
	}
	return report, nil
}

// LogReport writes a retrain summary to the global logger.
func LogReport(r *Report) {
	zap.L().Info("learner: concept retrained",
		zap.String("concept_id", r.ConceptID),
		zap.Int("outcomes", r.OutcomesCount),
		zap.Float64("base_revenue", r.NewBaseRevenue),
		zap.Float64("revenue_variance", r.NewVariance),
		zap.Float64("mape", r.AvgPredictionError),
		zap.Bool("weights_updated", r.WeightsUpdated),
	)
}
