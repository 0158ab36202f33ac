package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescore/internal/model"
)

// MemoryStore implements Repository in process memory. It is used by tests
// and by the CLI when no database is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	concepts    map[string]*model.Concept
	predictions map[string]*model.Prediction
	outcomes    map[string]*model.Outcome
	// byPrediction indexes outcomes by prediction id.
	byPrediction map[string]string
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		concepts:     make(map[string]*model.Concept),
		predictions:  make(map[string]*model.Prediction),
		outcomes:     make(map[string]*model.Outcome),
		byPrediction: make(map[string]string),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateConcept(_ context.Context, c *model.Concept) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSystemDefaultLocked(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = newID()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Version = 1
	s.concepts[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) LoadConcept(_ context.Context, id string) (*model.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.concepts[id]
	if !ok {
		return nil, &model.ConceptNotFoundError{ID: id}
	}
	return c.Clone(), nil
}

func (s *MemoryStore) SaveConcept(_ context.Context, c *model.Concept, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveConceptLocked(c, expectedVersion)
}

func (s *MemoryStore) saveConceptLocked(c *model.Concept, expectedVersion int64) error {
	if err := c.Validate(); err != nil {
		return err
	}
	cur, ok := s.concepts[c.ID]
	if !ok {
		return &model.ConceptNotFoundError{ID: c.ID}
	}
	if cur.Version != expectedVersion {
		return &model.OptimisticLockError{ConceptID: c.ID, ExpectedVersion: expectedVersion}
	}
	if err := s.checkSystemDefaultLocked(c); err != nil {
		return err
	}
	nextVersion(c, expectedVersion)
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.concepts[c.ID] = c.Clone()
	return nil
}

// checkSystemDefaultLocked mirrors the SQL partial unique index: at most one
// active system default per category.
func (s *MemoryStore) checkSystemDefaultLocked(c *model.Concept) error {
	if !c.IsSystemDefault || !c.IsActive {
		return nil
	}
	for id, other := range s.concepts {
		if id != c.ID && other.IsSystemDefault && other.IsActive && other.Category == c.Category {
			return eris.Errorf("memory: active system default for %s already exists (%s)", c.Category, id)
		}
	}
	return nil
}

func (s *MemoryStore) ListConcepts(_ context.Context, filter ConceptFilter) ([]*model.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Concept
	for _, c := range s.concepts {
		if matchesFilter(c, filter) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(c *model.Concept, f ConceptFilter) bool {
	if !f.IncludeInactive && !c.IsActive {
		return false
	}
	if f.Category != "" && c.Category != f.Category {
		return false
	}
	if f.TenantID != "" && c.TenantID != f.TenantID {
		return f.IncludeSystem && c.IsSystemDefault
	}
	return true
}

func (s *MemoryStore) FindActiveConcept(_ context.Context, tenantID, category string) (*model.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.Concept
	for _, c := range s.concepts {
		if c.TenantID != tenantID || c.Category != category || !c.IsActive || c.IsSystemDefault {
			continue
		}
		if best == nil || c.CreatedAt.Before(best.CreatedAt) ||
			(c.CreatedAt.Equal(best.CreatedAt) && c.ID < best.ID) {
			best = c
		}
	}
	if best == nil {
		return nil, &model.ConceptNotFoundError{Category: category}
	}
	return best.Clone(), nil
}

func (s *MemoryStore) FindSystemDefault(_ context.Context, category string) (*model.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.concepts {
		if c.IsSystemDefault && c.IsActive && c.Category == category {
			return c.Clone(), nil
		}
	}
	return nil, &model.ConceptNotFoundError{Category: category}
}

func (s *MemoryStore) CreatePrediction(_ context.Context, p *model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	cp.Features = p.Features.Clone()
	cp.Breakdown = append([]model.FactorScore(nil), p.Breakdown...)
	s.predictions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPrediction(_ context.Context, id string) (*model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.predictions[id]
	if !ok {
		return nil, &model.PredictionNotFoundError{ID: id}
	}
	cp := *p
	cp.Features = p.Features.Clone()
	cp.Breakdown = append([]model.FactorScore(nil), p.Breakdown...)
	return &cp, nil
}

func (s *MemoryStore) GetOutcomeByPrediction(_ context.Context, predictionID string) (*model.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPrediction[predictionID]
	if !ok {
		return nil, nil
	}
	o := *s.outcomes[id]
	o.Features = s.outcomes[id].Features.Clone()
	return &o, nil
}

func (s *MemoryStore) ListOutcomes(_ context.Context, conceptID string, offset, limit int) ([]model.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []model.Outcome
	for _, o := range s.outcomes {
		if o.ConceptID == conceptID {
			cp := *o
			cp.Features = o.Features.Clone()
			all = append(all, cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) CommitOutcome(_ context.Context, commit OutcomeCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := commit.Outcome
	if _, dup := s.byPrediction[o.PredictionID]; dup {
		return &model.DuplicateOutcomeError{PredictionID: o.PredictionID}
	}
	if _, ok := s.predictions[o.PredictionID]; !ok {
		return &model.PredictionNotFoundError{ID: o.PredictionID}
	}

	if commit.Concept != nil {
		if err := s.saveConceptLocked(commit.Concept, commit.ExpectedVersion); err != nil {
			return err
		}
	}

	if o.ID == "" {
		o.ID = newID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	cp := *o
	cp.Features = o.Features.Clone()
	s.outcomes[o.ID] = &cp
	s.byPrediction[o.PredictionID] = o.ID

	if commit.Concept != nil && commit.MarkTrained {
		s.markTrainedLocked(commit.Concept.ID)
		o.UsedInTraining = true
	}
	return nil
}

func (s *MemoryStore) CommitTraining(_ context.Context, c *model.Concept, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveConceptLocked(c, expectedVersion); err != nil {
		return err
	}
	s.markTrainedLocked(c.ID)
	return nil
}

func (s *MemoryStore) markTrainedLocked(conceptID string) {
	for _, o := range s.outcomes {
		if o.ConceptID == conceptID {
			o.UsedInTraining = true
		}
	}
}
