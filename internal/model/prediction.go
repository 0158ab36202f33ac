package model

import "time"

// FactorScore is one line of the score breakdown shown to users.
type FactorScore struct {
	Factor Factor  `json:"factor"`
	Score  float64 `json:"score"`
	// Weight is the concept's nominal weight for the factor.
	Weight float64 `json:"weight"`
	// EffectiveWeight is the weight after redistributing missing factors.
	EffectiveWeight float64  `json:"effective_weight"`
	Contribution    float64  `json:"contribution"`
	RawValue        *float64 `json:"raw_value,omitempty"`
	RawUnit         string   `json:"raw_unit,omitempty"`
	Source          string   `json:"source,omitempty"`
	Present         bool     `json:"present"`
}

// Prediction is the immutable record of one scoring call.
type Prediction struct {
	ID string `json:"id"`
	// ConceptID is empty when the static fallback table was used.
	ConceptID      string           `json:"concept_id,omitempty"`
	ConceptVersion int64            `json:"concept_version,omitempty"`
	TenantID       string           `json:"tenant_id,omitempty"`
	Category       string           `json:"category"`
	Location       *Location        `json:"location,omitempty"`
	Features       *FeatureSnapshot `json:"features"`
	Score          float64          `json:"score"`
	RevenueLow     float64          `json:"revenue_low"`
	RevenueMid     float64          `json:"revenue_mid"`
	RevenueHigh    float64          `json:"revenue_high"`
	Confidence     float64          `json:"confidence"`
	Breakdown      []FactorScore    `json:"breakdown"`
	CreatedAt      time.Time        `json:"created_at"`
}

// WithinBand reports whether revenue falls inside the predicted low/high band.
func (p *Prediction) WithinBand(revenue float64) bool {
	return revenue >= p.RevenueLow && revenue <= p.RevenueHigh
}

// Outcome is a realised revenue result for a prediction. It is immutable
// once created apart from UsedInTraining.
type Outcome struct {
	ID           string `json:"id"`
	PredictionID string `json:"prediction_id"`
	// ConceptID is empty when the prediction used the static fallback.
	ConceptID        string           `json:"concept_id,omitempty"`
	PredictedRevenue float64          `json:"predicted_revenue"`
	PredictedScore   float64          `json:"predicted_score"`
	ActualRevenue    float64          `json:"actual_revenue"`
	VariancePct      float64          `json:"variance_pct"`
	Features         *FeatureSnapshot `json:"features,omitempty"`
	OpenedAt         time.Time        `json:"opened_at"`
	Notes            string           `json:"notes,omitempty"`
	UsedInTraining   bool             `json:"used_in_training"`
	CreatedAt        time.Time        `json:"created_at"`
}

// VariancePct returns (actual - predicted) / predicted * 100.
func VariancePct(predicted, actual float64) float64 {
	if predicted == 0 {
		return 0
	}
	return (actual - predicted) / predicted * 100
}
