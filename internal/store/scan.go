package store

import (
	"github.com/sells-group/sitescore/internal/model"
)

// scannable is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanConcept reads a row selected with conceptColumns. Errors are
// returned unwrapped so callers can test for no-rows sentinels.
func scanConcept(row scannable) (*model.Concept, error) {
	var c model.Concept
	var weights []byte

	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Description, &c.Category, &c.BaseRevenue, &c.RevenueVariance,
		&c.TargetIncomeMin, &c.TargetIncomeMax, &c.OptimalPopulationDensity, &c.TargetCompetitorsPer1k,
		&weights, &c.OutcomesCount, &c.AvgPredictionError, &c.LastTrainedAt, &c.IsSystemDefault, &c.IsActive,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.Weights, err = decodeWeights(weights); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanPrediction(row scannable) (*model.Prediction, error) {
	var p model.Prediction
	var conceptID *string
	var loc, features, breakdown []byte

	err := row.Scan(
		&p.ID, &conceptID, &p.ConceptVersion, &p.TenantID, &p.Category, &loc,
		&features, &p.Score, &p.RevenueLow, &p.RevenueMid, &p.RevenueHigh, &p.Confidence, &breakdown, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conceptID != nil {
		p.ConceptID = *conceptID
	}
	if p.Location, err = decodeLocation(loc); err != nil {
		return nil, err
	}
	if p.Features, err = decodeFeatures(features); err != nil {
		return nil, err
	}
	if p.Breakdown, err = decodeBreakdown(breakdown); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanOutcome(row scannable) (*model.Outcome, error) {
	var o model.Outcome
	var conceptID *string
	var features []byte

	err := row.Scan(
		&o.ID, &o.PredictionID, &conceptID, &o.PredictedRevenue, &o.PredictedScore, &o.ActualRevenue,
		&o.VariancePct, &features, &o.OpenedAt, &o.Notes, &o.UsedInTraining, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conceptID != nil {
		o.ConceptID = *conceptID
	}
	if o.Features, err = decodeFeatures(features); err != nil {
		return nil, err
	}
	return &o, nil
}
