// Package predict scores candidate locations: it gathers features, resolves
// the concept, runs the scoring engine and trust metrics, and records the
// prediction so that its outcome can be reported later.
package predict

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sitescore/internal/concept"
	"github.com/sells-group/sitescore/internal/estimate"
	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/scorer"
	"github.com/sells-group/sitescore/internal/store"
	"github.com/sells-group/sitescore/internal/trust"
	"github.com/sells-group/sitescore/internal/validate"
	"github.com/sells-group/sitescore/pkg/features"
)

// Request asks for the prediction at one site. Features win over Location;
// with only a Location the snapshot is fetched from the feature provider.
type Request struct {
	Label     string                 `json:"label,omitempty" validate:"max=200"`
	Features  *model.FeatureSnapshot `json:"features,omitempty" validate:"required_without=Location"`
	Location  *model.Location        `json:"location,omitempty"`
	ConceptID string                 `json:"concept_id,omitempty"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	Category  string                 `json:"category" validate:"required_without=ConceptID"`
}

// Response is a scored and recorded prediction.
type Response struct {
	PredictionID    string                   `json:"prediction_id"`
	Label           string                   `json:"label,omitempty"`
	Score           float64                  `json:"score"`
	Recommendation  string                   `json:"recommendation"`
	Revenue         estimate.RevenueEstimate `json:"revenue"`
	Breakdown       []model.FactorScore      `json:"breakdown"`
	TopContributors []model.Factor           `json:"top_contributors"`
	ConceptIDUsed   string                   `json:"concept_id_used,omitempty"`
	ConceptName     string                   `json:"concept_name"`
	ConceptSource   concept.Source           `json:"concept_source"`
	Category        string                   `json:"category"`
	Confidence      float64                  `json:"confidence"`
	Coverage        trust.Coverage           `json:"coverage"`
	Method          trust.MethodInfo         `json:"method"`
	Highlights      []string                 `json:"highlights,omitempty"`
	Location        *model.Location          `json:"location,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
}

// Service produces predictions.
type Service struct {
	repo          store.Repository
	concepts      *concept.Service
	engine        *scorer.Engine
	trust         *trust.Calculator
	provider      features.Provider
	maxConcurrent int
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEngine replaces the default scoring engine.
func WithEngine(e *scorer.Engine) Option {
	return func(s *Service) {
		s.engine = e
	}
}

// WithTrust replaces the default trust calculator.
func WithTrust(c *trust.Calculator) Option {
	return func(s *Service) {
		s.trust = c
	}
}

// WithProvider sets the feature provider used for location-only requests.
func WithProvider(p features.Provider) Option {
	return func(s *Service) {
		s.provider = p
	}
}

// WithMaxConcurrent bounds the number of candidates Rank scores at once.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		s.maxConcurrent = n
	}
}

// WithClock overrides the prediction timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service.
func NewService(repo store.Repository, concepts *concept.Service, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		concepts:      concepts,
		engine:        scorer.Default(),
		trust:         trust.New(trust.DefaultMaxStdDev),
		maxConcurrent: 8,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict scores one site and stores the prediction.
func (s *Service) Predict(ctx context.Context, req Request) (*Response, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	res, err := s.concepts.Resolve(ctx, concept.ResolveParams{
		ConceptID: req.ConceptID,
		TenantID:  req.TenantID,
		Category:  req.Category,
	})
	if err != nil {
		return nil, err
	}
	c := res.Concept

	snap, err := s.snapshot(ctx, req, c.Category)
	if err != nil {
		return nil, err
	}

	scored, err := s.engine.Score(snap, c)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cov := s.trust.Coverage(snap)
	conf := s.trust.Confidence(scored.Breakdown, cov)

	p := &model.Prediction{
		TenantID:    req.TenantID,
		Category:    c.Category,
		Location:    snap.Location,
		Features:    snap,
		Score:       scored.Score,
		RevenueLow:  scored.Revenue.Low,
		RevenueMid:  scored.Revenue.Mid,
		RevenueHigh: scored.Revenue.High,
		Confidence:  conf,
		Breakdown:   scored.Breakdown,
		CreatedAt:   now,
	}
	if !res.Static() {
		p.ConceptID = c.ID
		p.ConceptVersion = c.Version
	}
	if err := s.repo.CreatePrediction(ctx, p); err != nil {
		return nil, eris.Wrap(err, "predict: store prediction")
	}

	zap.L().Info("predict: site scored",
		zap.String("prediction_id", p.ID),
		zap.String("concept_id", p.ConceptID),
		zap.String("concept_source", string(res.Source)),
		zap.String("category", p.Category),
		zap.Float64("score", p.Score),
		zap.Float64("revenue_mid", p.RevenueMid),
		zap.Float64("confidence", conf),
	)

	return &Response{
		PredictionID:    p.ID,
		Label:           req.Label,
		Score:           scored.Score,
		Recommendation:  scored.Recommendation,
		Revenue:         scored.Revenue,
		Breakdown:       scored.Breakdown,
		TopContributors: scored.TopContributors,
		ConceptIDUsed:   p.ConceptID,
		ConceptName:     c.Name,
		ConceptSource:   res.Source,
		Category:        c.Category,
		Confidence:      conf,
		Coverage:        cov,
		Method:          s.trust.MethodInfo(snap, now),
		Highlights:      trust.Highlights(snap),
		Location:        snap.Location,
		CreatedAt:       now,
	}, nil
}

// snapshot returns a private copy of the request's features, fetching them
// from the provider when only a location was given.
func (s *Service) snapshot(ctx context.Context, req Request, category string) (*model.FeatureSnapshot, error) {
	if req.Features != nil {
		snap := req.Features.Clone()
		if snap.Location == nil && req.Location != nil {
			loc := *req.Location
			snap.Location = &loc
		}
		if snap.Values == nil {
			snap.Values = make(map[string]float64)
		}
		return snap, nil
	}

	if s.provider == nil {
		return nil, eris.New("predict: no feature provider configured for location-only request")
	}
	snap, err := s.provider.Snapshot(ctx, *req.Location, category)
	if err != nil {
		return nil, eris.Wrap(err, "predict: fetch features")
	}
	return snap, nil
}
