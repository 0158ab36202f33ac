// Package store persists concepts, predictions and outcomes.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescore/internal/config"
	"github.com/sells-group/sitescore/internal/model"
)

// DefaultOutcomePageSize is the page size used when loading a concept's
// outcome history.
const DefaultOutcomePageSize = 1000

// ConceptFilter specifies criteria for listing concepts.
type ConceptFilter struct {
	TenantID string `json:"tenant_id,omitempty"`
	Category string `json:"category,omitempty"`
	// IncludeSystem adds system defaults to a tenant-scoped listing.
	IncludeSystem   bool `json:"include_system,omitempty"`
	IncludeInactive bool `json:"include_inactive,omitempty"`
	Limit           int  `json:"limit,omitempty"`
	Offset          int  `json:"offset,omitempty"`
}

// OutcomeCommit is the unit of work written atomically when an outcome is
// recorded.
type OutcomeCommit struct {
	Outcome *model.Outcome
	// Concept is the updated concept, nil when the prediction had none.
	Concept *model.Concept
	// ExpectedVersion is the concept version the caller read.
	ExpectedVersion int64
	// MarkTrained flags every outcome of the concept as used in training.
	MarkTrained bool
}

// Repository defines the persistence interface for concepts, predictions
// and outcomes. Concepts returned are copies owned by the caller.
//
// Concept writes are optimistic: a save whose expected version no longer
// matches fails with *model.OptimisticLockError and writes nothing. Every
// concept write is validated first and fails with *model.InvalidConceptError.
//
// FindActiveConcept returns the oldest active tenant concept of a category
// (ties broken by ID), so saves never change which concept resolves.
type Repository interface {
	// Concepts
	CreateConcept(ctx context.Context, c *model.Concept) error
	LoadConcept(ctx context.Context, id string) (*model.Concept, error)
	SaveConcept(ctx context.Context, c *model.Concept, expectedVersion int64) error
	ListConcepts(ctx context.Context, filter ConceptFilter) ([]*model.Concept, error)
	FindActiveConcept(ctx context.Context, tenantID, category string) (*model.Concept, error)
	FindSystemDefault(ctx context.Context, category string) (*model.Concept, error)

	// Predictions
	CreatePrediction(ctx context.Context, p *model.Prediction) error
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)

	// Outcomes
	GetOutcomeByPrediction(ctx context.Context, predictionID string) (*model.Outcome, error)
	ListOutcomes(ctx context.Context, conceptID string, offset, limit int) ([]model.Outcome, error)
	CommitOutcome(ctx context.Context, commit OutcomeCommit) error
	CommitTraining(ctx context.Context, c *model.Concept, expectedVersion int64) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the Repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Repository, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "sitescore.db"
		}
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

// EachOutcome streams every outcome of conceptID to fn, oldest first, one
// page at a time. Iteration stops at the first error from fn.
func EachOutcome(ctx context.Context, repo Repository, conceptID string, pageSize int, fn func(o *model.Outcome) error) error {
	if pageSize <= 0 {
		pageSize = DefaultOutcomePageSize
	}

	for offset := 0; ; offset += pageSize {
		page, err := repo.ListOutcomes(ctx, conceptID, offset, pageSize)
		if err != nil {
			return err
		}
		for i := range page {
			if err := fn(&page[i]); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// nextVersion stamps c as saved over expectedVersion.
func nextVersion(c *model.Concept, expectedVersion int64) {
	c.Version = expectedVersion + 1
}
