// Package concept manages concepts: resolution for scoring calls, tenant
// CRUD, cloning and seeding of the system defaults.
package concept

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/resilience"
	"github.com/sells-group/sitescore/internal/store"
	"github.com/sells-group/sitescore/internal/validate"
)

// WeightsParams carries the five factor weights of a create or update.
type WeightsParams struct {
	Population  float64 `json:"population" yaml:"population" validate:"gte=0,lte=1"`
	Income      float64 `json:"income" yaml:"income" validate:"gte=0,lte=1"`
	Access      float64 `json:"access" yaml:"access" validate:"gte=0,lte=1"`
	Competition float64 `json:"competition" yaml:"competition" validate:"gte=0,lte=1"`
	Walkability float64 `json:"walkability" yaml:"walkability" validate:"gte=0,lte=1"`
}

// Weights converts p to model weights.
func (p WeightsParams) Weights() model.Weights {
	return model.Weights{
		model.FactorPopulation:  p.Population,
		model.FactorIncome:      p.Income,
		model.FactorAccess:      p.Access,
		model.FactorCompetition: p.Competition,
		model.FactorWalkability: p.Walkability,
	}
}

// CreateParams defines a new tenant concept.
type CreateParams struct {
	TenantID                 string        `json:"tenant_id" yaml:"tenant_id" validate:"required,ne=system"`
	Name                     string        `json:"name" yaml:"name" validate:"required,max=200"`
	Category                 string        `json:"category" yaml:"category" validate:"required,max=64"`
	Description              string        `json:"description,omitempty" yaml:"description,omitempty"`
	BaseRevenue              float64       `json:"base_revenue" yaml:"base_revenue" validate:"gt=0"`
	TargetIncomeMin          float64       `json:"target_income_min" yaml:"target_income_min" validate:"gte=0"`
	TargetIncomeMax          float64       `json:"target_income_max" yaml:"target_income_max" validate:"gtefield=TargetIncomeMin"`
	OptimalPopulationDensity float64       `json:"optimal_population_density" yaml:"optimal_population_density" validate:"gt=0"`
	TargetCompetitorsPer1k   float64       `json:"target_competitors_per_1k" yaml:"target_competitors_per_1k" validate:"gt=0"`
	Weights                  WeightsParams `json:"weights" yaml:"weights"`
}

// UpdateParams changes parameter fields of a tenant concept. Nil fields
// are left as they are. Learning metadata cannot be set here.
type UpdateParams struct {
	Name                     *string        `json:"name,omitempty" yaml:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description              *string        `json:"description,omitempty" yaml:"description,omitempty"`
	BaseRevenue              *float64       `json:"base_revenue,omitempty" yaml:"base_revenue,omitempty" validate:"omitempty,gt=0"`
	TargetIncomeMin          *float64       `json:"target_income_min,omitempty" yaml:"target_income_min,omitempty" validate:"omitempty,gte=0"`
	TargetIncomeMax          *float64       `json:"target_income_max,omitempty" yaml:"target_income_max,omitempty" validate:"omitempty,gte=0"`
	OptimalPopulationDensity *float64       `json:"optimal_population_density,omitempty" yaml:"optimal_population_density,omitempty" validate:"omitempty,gt=0"`
	TargetCompetitorsPer1k   *float64       `json:"target_competitors_per_1k,omitempty" yaml:"target_competitors_per_1k,omitempty" validate:"omitempty,gt=0"`
	Weights                  *WeightsParams `json:"weights,omitempty" yaml:"weights,omitempty"`
	IsActive                 *bool          `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

func (p UpdateParams) apply(c *model.Concept) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.BaseRevenue != nil {
		c.BaseRevenue = *p.BaseRevenue
	}
	if p.TargetIncomeMin != nil {
		c.TargetIncomeMin = *p.TargetIncomeMin
	}
	if p.TargetIncomeMax != nil {
		c.TargetIncomeMax = *p.TargetIncomeMax
	}
	if p.OptimalPopulationDensity != nil {
		c.OptimalPopulationDensity = *p.OptimalPopulationDensity
	}
	if p.TargetCompetitorsPer1k != nil {
		c.TargetCompetitorsPer1k = *p.TargetCompetitorsPer1k
	}
	if p.Weights != nil {
		c.Weights = p.Weights.Weights()
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
}

// CloneParams copies a concept into a tenant's namespace.
type CloneParams struct {
	SourceID string `json:"source_id" validate:"required"`
	Name     string `json:"name" validate:"required,max=200"`
	TenantID string `json:"tenant_id" validate:"required,ne=system"`
}

// SeedReport lists the categories Seed created and skipped.
type SeedReport struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// Service implements concept resolution and CRUD over a Repository.
type Service struct {
	repo     store.Repository
	resolver *Resolver
	retry    resilience.RetryConfig
}

// Option configures a Service.
type Option func(*Service)

// WithRetry sets the optimistic-lock retry budget for updates.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(s *Service) {
		s.retry = resilience.ConflictRetryConfig(maxAttempts, backoff)
	}
}

// WithResolver replaces the standard resolution chain.
func WithResolver(r *Resolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// NewService creates a Service.
func NewService(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		resolver: NewResolver(repo),
		retry:    resilience.ConflictRetryConfig(3, resilience.DefaultConflictBackoff),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve selects the concept for a scoring call.
func (s *Service) Resolve(ctx context.Context, p ResolveParams) (*Resolution, error) {
	return s.resolver.Resolve(ctx, p)
}

// Create stores a new active tenant concept.
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.Concept, error) {
	if err := validate.Struct(p); err != nil {
		return nil, &model.InvalidConceptError{Reason: err.Error()}
	}

	c := &model.Concept{
		TenantID:                 p.TenantID,
		Name:                     p.Name,
		Description:              p.Description,
		Category:                 p.Category,
		BaseRevenue:              p.BaseRevenue,
		RevenueVariance:          model.InitialRevenueVariance,
		TargetIncomeMin:          p.TargetIncomeMin,
		TargetIncomeMax:          p.TargetIncomeMax,
		OptimalPopulationDensity: p.OptimalPopulationDensity,
		TargetCompetitorsPer1k:   p.TargetCompetitorsPer1k,
		Weights:                  p.Weights.Weights(),
		IsActive:                 true,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateConcept(ctx, c); err != nil {
		return nil, err
	}

	zap.L().Info("concept: created",
		zap.String("concept_id", c.ID),
		zap.String("tenant_id", c.TenantID),
		zap.String("category", c.Category),
	)
	return c, nil
}

// Get returns a concept by id, active or not.
func (s *Service) Get(ctx context.Context, id string) (*model.Concept, error) {
	return s.repo.LoadConcept(ctx, id)
}

// List returns the concepts matching filter.
func (s *Service) List(ctx context.Context, filter store.ConceptFilter) ([]*model.Concept, error) {
	return s.repo.ListConcepts(ctx, filter)
}

// Update applies p to a tenant concept. A concurrent write is retried on a
// fresh read; persistent contention yields *model.ConcurrentUpdateError.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*model.Concept, error) {
	if err := validate.Struct(p); err != nil {
		return nil, &model.InvalidConceptError{ConceptID: id, Reason: err.Error()}
	}

	var out *model.Concept
	err := s.mutate(ctx, id, "update", func(c *model.Concept) (bool, error) {
		p.apply(c)
		if err := c.Validate(); err != nil {
			return false, err
		}
		out = c
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Deactivate soft-deletes a tenant concept. Deactivating an inactive
// concept is a no-op.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.mutate(ctx, id, "deactivate", func(c *model.Concept) (bool, error) {
		if !c.IsActive {
			return false, nil
		}
		c.IsActive = false
		return true, nil
	})
}

// mutate loads id, applies fn and saves with the version read. fn reports
// whether anything changed.
func (s *Service) mutate(ctx context.Context, id, op string, fn func(c *model.Concept) (bool, error)) error {
	return resilience.RetryOnConflict(ctx, s.retry, id, func(ctx context.Context) error {
		c, err := s.repo.LoadConcept(ctx, id)
		if err != nil {
			return err
		}
		if c.IsSystemDefault {
			return &model.SystemDefaultError{ConceptID: id, Op: op}
		}

		expected := c.Version
		changed, err := fn(c)
		if err != nil || !changed {
			return err
		}
		if err := s.repo.SaveConcept(ctx, c, expected); err != nil {
			return err
		}

		zap.L().Info("concept: "+op,
			zap.String("concept_id", id),
			zap.Int64("version", c.Version),
		)
		return nil
	})
}

// Clone copies the parameters of p.SourceID into a new active tenant
// concept. Learning history is not carried over.
func (s *Service) Clone(ctx context.Context, p CloneParams) (*model.Concept, error) {
	if err := validate.Struct(p); err != nil {
		return nil, &model.InvalidConceptError{Reason: err.Error()}
	}

	src, err := s.repo.LoadConcept(ctx, p.SourceID)
	if err != nil {
		return nil, err
	}

	c := src.Clone()
	c.ID = ""
	c.TenantID = p.TenantID
	c.Name = p.Name
	c.Description = fmt.Sprintf("Cloned from %s", src.Name)
	c.OutcomesCount = 0
	c.AvgPredictionError = nil
	c.LastTrainedAt = nil
	c.IsSystemDefault = false
	c.IsActive = true
	c.CreatedAt = time.Time{}

	if err := s.repo.CreateConcept(ctx, c); err != nil {
		return nil, err
	}

	zap.L().Info("concept: cloned",
		zap.String("source_id", src.ID),
		zap.String("concept_id", c.ID),
		zap.String("tenant_id", c.TenantID),
	)
	return c, nil
}

// Seed creates an active system default for every category of the static
// table that has none. Existing defaults are left untouched.
func (s *Service) Seed(ctx context.Context) (*SeedReport, error) {
	report := &SeedReport{}
	for _, category := range Categories() {
		_, err := s.repo.FindSystemDefault(ctx, category)
		if err == nil {
			report.Skipped = append(report.Skipped, category)
			continue
		}
		var nf *model.ConceptNotFoundError
		if !errors.As(err, &nf) {
			return report, err
		}

		c, _ := StaticConcept(category)
		c.IsSystemDefault = true
		if err := s.repo.CreateConcept(ctx, c); err != nil {
			return report, err
		}
		report.Created = append(report.Created, category)
	}

	zap.L().Info("concept: seed complete",
		zap.Strings("created", report.Created),
		zap.Strings("skipped", report.Skipped),
	)
	return report, nil
}
