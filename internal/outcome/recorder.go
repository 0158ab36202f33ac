// Package outcome records realised revenue against earlier predictions and
// triggers concept learning once enough history exists.
package outcome

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sitescore/internal/config"
	"github.com/sells-group/sitescore/internal/learner"
	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/resilience"
	"github.com/sells-group/sitescore/internal/store"
	"github.com/sells-group/sitescore/internal/validate"
)

// Params is one outcome submission.
type Params struct {
	PredictionID  string    `json:"prediction_id" validate:"required"`
	ActualRevenue float64   `json:"actual_revenue" validate:"gt=0"`
	OpenedAt      time.Time `json:"opened_at" validate:"required"`
	Notes         string    `json:"notes,omitempty" validate:"max=2000"`
}

// Result reports what recording an outcome did.
type Result struct {
	OutcomeID           string  `json:"outcome_id"`
	PredictionID        string  `json:"prediction_id"`
	ConceptID           string  `json:"concept_id,omitempty"`
	VariancePct         float64 `json:"variance_pct"`
	WithinPredictedBand bool    `json:"within_predicted_band"`
	// Learned is false when the prediction used the static fallback.
	Learned             bool            `json:"learned"`
	TriggeredRetraining bool            `json:"triggered_retraining"`
	NewAccuracy         *float64        `json:"new_accuracy"`
	OutcomesCount       int             `json:"outcomes_count"`
	WeightsUpdated      bool            `json:"weights_updated"`
	Retrain             *learner.Report `json:"retrain,omitempty"`
}

// Recorder stores outcomes and updates their concept.
type Recorder struct {
	repo    store.Repository
	learner *learner.Learner
	retry   resilience.RetryConfig
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithRetry sets the optimistic-lock retry budget.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(r *Recorder) {
		r.retry = resilience.ConflictRetryConfig(maxAttempts, backoff)
	}
}

// WithConfig applies outcome settings from application config.
func WithConfig(cfg config.OutcomeConfig) Option {
	return WithRetry(cfg.MaxAttempts, time.Duration(cfg.RetryBackoffMs)*time.Millisecond)
}

// NewRecorder creates a Recorder.
func NewRecorder(repo store.Repository, l *learner.Learner, opts ...Option) *Recorder {
	r := &Recorder{
		repo:    repo,
		learner: l,
		retry:   resilience.ConflictRetryConfig(3, resilience.DefaultConflictBackoff),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stores the outcome for p.PredictionID. When the prediction has a
// concept its outcome count is incremented and, at the training threshold,
// the concept is refit from its full history. The outcome insert and the
// concept update commit together; a concurrent update of the same concept
// is retried from a fresh read.
func (r *Recorder) Record(ctx context.Context, p Params) (*Result, error) {
	if err := validate.Struct(p); err != nil {
		return nil, err
	}

	pred, err := r.repo.GetPrediction(ctx, p.PredictionID)
	if err != nil {
		return nil, err
	}
	if p.OpenedAt.Before(pred.CreatedAt) {
		zap.L().Warn("outcome: opened_at precedes prediction",
			zap.String("prediction_id", pred.ID),
			zap.Time("opened_at", p.OpenedAt),
			zap.Time("predicted_at", pred.CreatedAt),
		)
	}

	res := &Result{
		PredictionID:        pred.ID,
		ConceptID:           pred.ConceptID,
		VariancePct:         model.VariancePct(pred.RevenueMid, p.ActualRevenue),
		WithinPredictedBand: pred.WithinBand(p.ActualRevenue),
	}

	if pred.ConceptID == "" {
		o := newOutcome(pred, p)
		if err := r.checkDuplicate(ctx, pred.ID); err != nil {
			return nil, err
		}
		if err := r.repo.CommitOutcome(ctx, store.OutcomeCommit{Outcome: o}); err != nil {
			return nil, err
		}
		res.OutcomeID = o.ID
		r.logRecorded(res)
		return res, nil
	}

	err = resilience.RetryOnConflict(ctx, r.retry, pred.ConceptID, func(ctx context.Context) error {
		if err := r.checkDuplicate(ctx, pred.ID); err != nil {
			return err
		}

		c, err := r.repo.LoadConcept(ctx, pred.ConceptID)
		if err != nil {
			return err
		}
		expected := c.Version
		o := newOutcome(pred, p)

		c.OutcomesCount++
		var report *learner.Report
		if c.OutcomesCount >= r.learner.Config().MinOutcomesForTraining {
			if report, err = r.learner.Refit(ctx, c, o); err != nil {
				return err
			}
		}

		err = r.repo.CommitOutcome(ctx, store.OutcomeCommit{
			Outcome:         o,
			Concept:         c,
			ExpectedVersion: expected,
			MarkTrained:     report != nil,
		})
		if err != nil {
			return err
		}

		res.OutcomeID = o.ID
		res.Learned = true
		res.OutcomesCount = c.OutcomesCount
		res.TriggeredRetraining = report != nil
		res.Retrain = report
		if report != nil {
			res.NewAccuracy = c.AvgPredictionError
			res.WeightsUpdated = report.WeightsUpdated
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Retrain != nil {
		learner.LogReport(res.Retrain)
	}
	r.logRecorded(res)
	return res, nil
}

func (r *Recorder) checkDuplicate(ctx context.Context, predictionID string) error {
	existing, err := r.repo.GetOutcomeByPrediction(ctx, predictionID)
	if err != nil {
		return err
	}
	if existing != nil {
		return &model.DuplicateOutcomeError{PredictionID: predictionID}
	}
	return nil
}

func (r *Recorder) logRecorded(res *Result) {
	zap.L().Info("outcome: recorded",
		zap.String("outcome_id", res.OutcomeID),
		zap.String("prediction_id", res.PredictionID),
		zap.String("concept_id", res.ConceptID),
		zap.Float64("variance_pct", res.VariancePct),
		zap.Bool("retrained", res.TriggeredRetraining),
	)
}

// newOutcome snapshots the prediction's features into a new outcome.
func newOutcome(pred *model.Prediction, p Params) *model.Outcome {
	return &model.Outcome{
		PredictionID:     pred.ID,
		ConceptID:        pred.ConceptID,
		PredictedRevenue: pred.RevenueMid,
		PredictedScore:   pred.Score,
		ActualRevenue:    p.ActualRevenue,
		VariancePct:      model.VariancePct(pred.RevenueMid, p.ActualRevenue),
		Features:         pred.Features.Clone(),
		OpenedAt:         p.OpenedAt,
		Notes:            p.Notes,
	}
}
