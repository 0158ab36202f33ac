package model

import "fmt"

// InvalidConceptError reports a concept whose parameters (usually weights)
// are malformed. It is never auto-corrected.
type InvalidConceptError struct {
	ConceptID string
	Reason    string
}

func (e *InvalidConceptError) Error() string {
	if e.ConceptID == "" {
		return "invalid concept: " + e.Reason
	}
	return fmt.Sprintf("invalid concept %s: %s", e.ConceptID, e.Reason)
}

// ConceptNotFoundError reports a concept lookup or resolution miss.
type ConceptNotFoundError struct {
	ID       string
	Category string
}

func (e *ConceptNotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("concept %s not found", e.ID)
	}
	return fmt.Sprintf("no concept available for category %q", e.Category)
}

// PredictionNotFoundError reports an unknown prediction id.
type PredictionNotFoundError struct {
	ID string
}

func (e *PredictionNotFoundError) Error() string {
	return fmt.Sprintf("prediction %s not found", e.ID)
}

// MissingRequiredFeatureError reports a snapshot with neither a population
// figure nor a location.
type MissingRequiredFeatureError struct {
	Missing []string
}

func (e *MissingRequiredFeatureError) Error() string {
	return fmt.Sprintf("missing required features: %v", e.Missing)
}

// OptimisticLockError is returned by a repository when a concept save
// finds a version other than the one the caller read.
type OptimisticLockError struct {
	ConceptID       string
	ExpectedVersion int64
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("concept %s was modified concurrently (expected version %d)", e.ConceptID, e.ExpectedVersion)
}

// ConcurrentUpdateError is surfaced after bounded retries of an
// OptimisticLockError are exhausted.
type ConcurrentUpdateError struct {
	ConceptID string
	Attempts  int
	Err       error
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("concept %s: concurrent update not resolved after %d attempts", e.ConceptID, e.Attempts)
}

func (e *ConcurrentUpdateError) Unwrap() error {
	return e.Err
}

// DuplicateOutcomeError reports a second outcome submission for a
// prediction that already has one.
type DuplicateOutcomeError struct {
	PredictionID string
}

func (e *DuplicateOutcomeError) Error() string {
	return fmt.Sprintf("outcome already submitted for prediction %s", e.PredictionID)
}

// SystemDefaultError reports an attempt to edit or deactivate a system
// default concept through the tenant CRUD surface.
type SystemDefaultError struct {
	ConceptID string
	Op        string
}

func (e *SystemDefaultError) Error() string {
	return fmt.Sprintf("cannot %s system default concept %s; clone it first", e.Op, e.ConceptID)
}
