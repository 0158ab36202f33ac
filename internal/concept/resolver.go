package concept

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/store"
	"github.com/sells-group/sitescore/internal/validate"
)

// Source names the resolution step that produced a concept.
type Source string

// Resolution steps, in the order they are tried.
const (
	SourceExplicit Source = "explicit"
	SourceTenant   Source = "tenant"
	SourceSystem   Source = "system"
	SourceStatic   Source = "static"
)

// ResolveParams selects the concept for a scoring call.
type ResolveParams struct {
	ConceptID string `json:"concept_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Category  string `json:"category" validate:"required_without=ConceptID"`
}

// Resolution is the concept chosen for a request and where it came from.
type Resolution struct {
	Concept *model.Concept
	Source  Source
}

// Static reports whether the built-in fallback table was used. Such
// concepts have no ID and take no part in learning.
func (r *Resolution) Static() bool {
	return r.Source == SourceStatic
}

// Strategy is one step of the resolution chain. Resolve returns (nil, nil)
// to defer to the next step; any error stops the chain.
type Strategy interface {
	Source() Source
	Resolve(ctx context.Context, p ResolveParams) (*model.Concept, error)
}

// Resolver walks its strategies in order; the first concept found wins.
type Resolver struct {
	strategies []Strategy
}

// NewResolver builds the standard chain: explicit id, tenant concept,
// system default, static table.
func NewResolver(repo store.Repository) *Resolver {
	return NewResolverWith(
		ExplicitStrategy{Repo: repo},
		TenantStrategy{Repo: repo},
		SystemStrategy{Repo: repo},
		StaticStrategy{},
	)
}

// NewResolverWith builds a resolver over custom strategies.
func NewResolverWith(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve returns a copy of the applicable concept.
func (r *Resolver) Resolve(ctx context.Context, p ResolveParams) (*Resolution, error) {
	if err := validate.Struct(p); err != nil {
		return nil, err
	}

	for _, s := range r.strategies {
		c, err := s.Resolve(ctx, p)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		if s.Source() == SourceStatic {
			zap.L().Warn("concept: using static fallback",
				zap.String("category", p.Category),
				zap.String("tenant_id", p.TenantID),
			)
		}
		return &Resolution{Concept: c, Source: s.Source()}, nil
	}

	return nil, &model.ConceptNotFoundError{Category: p.Category}
}

// ExplicitStrategy resolves a caller-supplied concept id. The id must name
// an active concept; there is no fallthrough on a miss.
type ExplicitStrategy struct {
	Repo store.Repository
}

func (ExplicitStrategy) Source() Source { return SourceExplicit }

func (s ExplicitStrategy) Resolve(ctx context.Context, p ResolveParams) (*model.Concept, error) {
	if p.ConceptID == "" {
		return nil, nil
	}
	c, err := s.Repo.LoadConcept(ctx, p.ConceptID)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, &model.ConceptNotFoundError{ID: p.ConceptID}
	}
	return c, nil
}

// TenantStrategy resolves the tenant's own active concept for the category.
type TenantStrategy struct {
	Repo store.Repository
}

func (TenantStrategy) Source() Source { return SourceTenant }

func (s TenantStrategy) Resolve(ctx context.Context, p ResolveParams) (*model.Concept, error) {
	if p.TenantID == "" || p.TenantID == model.SystemTenant {
		return nil, nil
	}
	return missAsNil(s.Repo.FindActiveConcept(ctx, p.TenantID, p.Category))
}

// SystemStrategy resolves the active system default for the category.
type SystemStrategy struct {
	Repo store.Repository
}

func (SystemStrategy) Source() Source { return SourceSystem }

func (s SystemStrategy) Resolve(ctx context.Context, p ResolveParams) (*model.Concept, error) {
	return missAsNil(s.Repo.FindSystemDefault(ctx, p.Category))
}

// StaticStrategy resolves from the embedded defaults table.
type StaticStrategy struct{}

func (StaticStrategy) Source() Source { return SourceStatic }

func (StaticStrategy) Resolve(_ context.Context, p ResolveParams) (*model.Concept, error) {
	c, ok := StaticConcept(p.Category)
	if !ok {
		return nil, nil
	}
	return c, nil
}

func missAsNil(c *model.Concept, err error) (*model.Concept, error) {
	var nf *model.ConceptNotFoundError
	if errors.As(err, &nf) {
		return nil, nil
	}
	return c, err
}
