package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescore/internal/config"
	"github.com/sells-group/sitescore/internal/model"
)

func newTestSQLite(t *testing.T) Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestMemory(t *testing.T) Repository {
	t.Helper()
	return NewMemory()
}

func testConcept(tenant, category string) *model.Concept {
	return &model.Concept{
		TenantID:                 tenant,
		Name:                     category + " concept",
		Category:                 category,
		BaseRevenue:              1_600_000,
		RevenueVariance:          model.InitialRevenueVariance,
		TargetIncomeMin:          30_000,
		TargetIncomeMax:          60_000,
		OptimalPopulationDensity: 8_000,
		TargetCompetitorsPer1k:   1.5,
		Weights: model.Weights{
			model.FactorPopulation:  0.35,
			model.FactorIncome:      0.25,
			model.FactorAccess:      0.20,
			model.FactorCompetition: 0.10,
			model.FactorWalkability: 0.10,
		},
		IsActive: true,
	}
}

func testPrediction(conceptID string) *model.Prediction {
	return &model.Prediction{
		ConceptID: conceptID,
		TenantID:  "tenant-a",
		Category:  "QSR",
		Location:  &model.Location{Lat: 60.1699, Lng: 24.9384},
		Features: &model.FeatureSnapshot{
			Values:  map[string]float64{model.FeaturePopulationDensity: 9000},
			Sources: map[string]string{model.FeaturePopulationDensity: "grid"},
		},
		Score:       72.5,
		RevenueLow:  1_300_000,
		RevenueMid:  1_630_000,
		RevenueHigh: 1_950_000,
		Confidence:  0.8,
		Breakdown: []model.FactorScore{
			{Factor: model.FactorPopulation, Score: 100, Weight: 0.35, EffectiveWeight: 1, Contribution: 100, Present: true},
		},
	}
}

func testOutcome(p *model.Prediction, actual float64) *model.Outcome {
	return &model.Outcome{
		PredictionID:     p.ID,
		ConceptID:        p.ConceptID,
		PredictedRevenue: p.RevenueMid,
		PredictedScore:   p.Score,
		ActualRevenue:    actual,
		VariancePct:      model.VariancePct(p.RevenueMid, actual),
		Features:         p.Features,
		OpenedAt:         time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func collectOutcomes(t *testing.T, r Repository, conceptID string, pageSize int) []model.Outcome {
	t.Helper()
	var out []model.Outcome
	err := EachOutcome(context.Background(), r, conceptID, pageSize, func(o *model.Outcome) error {
		out = append(out, *o)
		return nil
	})
	require.NoError(t, err)
	return out
}

func repositoryTestSuite(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("CreateAndLoadConcept", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		c := testConcept("tenant-a", "QSR")
		require.NoError(t, r.CreateConcept(ctx, c))
		assert.NotEmpty(t, c.ID)
		assert.Equal(t, int64(1), c.Version)

		got, err := r.LoadConcept(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Name, got.Name)
		assert.Equal(t, c.Weights, got.Weights)
		assert.Equal(t, int64(1), got.Version)
		assert.Nil(t, got.AvgPredictionError)
		assert.Nil(t, got.LastTrainedAt)
		assert.True(t, got.IsActive)
	})

	t.Run("LoadConceptNotFound", func(t *testing.T) {
		r := newRepo(t)
		_, err := r.LoadConcept(context.Background(), "missing")
		var nf *model.ConceptNotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, "missing", nf.ID)
	})

	t.Run("LoadedConceptIsACopy", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		c := testConcept("tenant-a", "QSR")
		require.NoError(t, r.CreateConcept(ctx, c))

		got, err := r.LoadConcept(ctx, c.ID)
		require.NoError(t, err)
		got.Weights[model.FactorPopulation] = 0.99

		again, err := r.LoadConcept(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.35, again.Weights[model.FactorPopulation])
	})

	t.Run("SaveConceptOptimisticLock", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		c := testConcept("tenant-a", "QSR")
		require.NoError(t, r.CreateConcept(ctx, c))

		first, err := r.LoadConcept(ctx, c.ID)
		require.NoError(t, err)
		second, err := r.LoadConcept(ctx, c.ID)
		require.NoError(t, err)

		first.Name = "renamed"
		require.NoError(t, r.SaveConcept(ctx, first, 1))
		assert.Equal(t, int64(2), first.Version)

		second.Name = "stale"
		err = r.SaveConcept(ctx, second, 1)
		var lock *model.OptimisticLockError
		require.True(t, errors.As(err, &lock))
		assert.Equal(t, int64(1), lock.ExpectedVersion)

		got, err := r.LoadConcept(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("SaveConceptNotFound", func(t *testing.T) {
		r := newRepo(t)
		c := testConcept("tenant-a", "QSR")
		c.ID = "ghost"
		err := r.SaveConcept(context.Background(), c, 1)
		var nf *model.ConceptNotFoundError
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("ListAndFindConcepts", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		sys := testConcept(model.SystemTenant, "QSR")
		sys.IsSystemDefault = true
		require.NoError(t, r.CreateConcept(ctx, sys))

		mine := testConcept("tenant-a", "QSR")
		require.NoError(t, r.CreateConcept(ctx, mine))

		other := testConcept("tenant-b", "QSR")
		require.NoError(t, r.CreateConcept(ctx, other))

		inactive := testConcept("tenant-a", "Coffee")
		inactive.IsActive = false
		require.NoError(t, r.CreateConcept(ctx, inactive))

		list, err := r.ListConcepts(ctx, ConceptFilter{TenantID: "tenant-a"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, mine.ID, list[0].ID)

		list, err = r.ListConcepts(ctx, ConceptFilter{TenantID: "tenant-a", IncludeSystem: true, IncludeInactive: true})
		require.NoError(t, err)
		assert.Len(t, list, 3)

		list, err = r.ListConcepts(ctx, ConceptFilter{Category: "QSR", Limit: 2})
		require.NoError(t, err)
		assert.Len(t, list, 2)

		found, err := r.FindActiveConcept(ctx, "tenant-a", "QSR")
		require.NoError(t, err)
		assert.Equal(t, mine.ID, found.ID)

		_, err = r.FindActiveConcept(ctx, "tenant-a", "Coffee")
		var nf *model.ConceptNotFoundError
		assert.True(t, errors.As(err, &nf))

		def, err := r.FindSystemDefault(ctx, "QSR")
		require.NoError(t, err)
		assert.Equal(t, sys.ID, def.ID)

		_, err = r.FindSystemDefault(ctx, "Sushi")
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("PredictionRoundTrip", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		c := testConcept("tenant-a", "QSR")
		require.NoError(t, r.CreateConcept(ctx, c))

		p := testPrediction(c.ID)
		require.NoError(t, r.CreatePrediction(ctx, p))
		require.NotEmpty(t, p.ID)

		got, err := r.GetPrediction(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ConceptID)
		require.NotNil(t, got.Location)
		assert.InDelta(t, 60.1699, got.Location.Lat, 1e-9)
		assert.InDelta(t, 24.9384, got.Location.Lng, 1e-9)
		assert.Equal(t, 9000.0, got.Features.Values[model.FeaturePopulationDensity])
		assert.Equal(t, "grid", got.Features.Source(model.FeaturePopulationDensity))
		require.Len(t, got.Breakdown, 1)
		assert.Equal(t, model.FactorPopulation, got.Breakdown[0].Factor)
		assert.Equal(t, 72.5, got.Score)

		_, err = r.GetPrediction(ctx, "nope")
		var pnf *model.PredictionNotFoundError
		assert.True(t, errors.As(err, &pnf))
	})

	t.Run("StaticFallbackPrediction", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		p := testPrediction("")
		p.Location = nil
		require.NoError(t, r.CreatePrediction(ctx, p))

		got, err := r.GetPrediction(ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, got.ConceptID)
		assert.Nil(t, got.Location)

		o := testOutcome(p, 1_500_000)
		require.NoError(t, r.CommitOutcome(ctx, OutcomeCommit{Outcome: o}))

		stored, err := r.GetOutcomeByPrediction(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Empty(t, stored.ConceptID)
		assert.False(t, stored.UsedInTraining)
	})

	t.Run("CommitOutcomeAtomic", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		c := testConcept("tenant-a", "QSR")
		require.NoError(t, r.CreateConcept(ctx, c))
		p := testPrediction(c.ID)
		require.NoError(t, r.CreatePrediction(ctx, p))

		updated := c.Clone()
		updated.OutcomesCount = 1
		o := testOutcome(p, 1_500_000)
		require.NoError(t, r.CommitOutcome(ctx, OutcomeCommit{
			Outcome:         o,
			Concept:         updated,
			ExpectedVersion: 1,
		}))
		assert.NotEmpty(t, o.ID)
		assert.Equal(t, int64(2), updated.Version)

		got, err := r.LoadConcept(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.OutcomesCount)
		assert.Equal(t, int64(2), got.Version)

		stored, err := r.GetOutcomeByPrediction(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, 1_500_000.0, stored.ActualRevenue)
		assert.InDelta(t, o.VariancePct, stored.VariancePct, 1e-9)
		assert.Equal(t, 9000.0, stored.Features.Values[model.FeaturePopulationDensity])
	})

	t.Run("CommitOutcomeStaleVersionWritesNothing", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		c := testConcept("tenant-a", "QSR")
		require.NoError(t, r.CreateConcept(ctx, c))
		p := testPrediction(c.ID)
		require.NoError(t, r.CreatePrediction(ctx, p))

		updated := c.Clone()
		updated.OutcomesCount = 1
		err := r.CommitOutcome(ctx, OutcomeCommit{
			Outcome:         testOutcome(p, 1_500_000),
			Concept:         updated,
			ExpectedVersion: 7,
		})
		var lock *model.OptimisticLockError
		require.True(t, errors.As(err, &lock))

		stored, err := r.GetOutcomeByPrediction(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, stored)

		got, err := r.LoadConcept(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.OutcomesCount)
	})

	t.Run("CommitOutcomeDuplicate", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		p := testPrediction("")
		require.NoError(t, r.CreatePrediction(ctx, p))
		require.NoError(t, r.CommitOutcome(ctx, OutcomeCommit{Outcome: testOutcome(p, 1_500_000)}))

		err := r.CommitOutcome(ctx, OutcomeCommit{Outcome: testOutcome(p, 1_400_000)})
		var dup *model.DuplicateOutcomeError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, p.ID, dup.PredictionID)
	})

	t.Run("ListOutcomesPagedAndMarkedTrained", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		c := testConcept("tenant-a", "QSR")
		require.NoError(t, r.CreateConcept(ctx, c))

		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			p := testPrediction(c.ID)
			require.NoError(t, r.CreatePrediction(ctx, p))
			o := testOutcome(p, 1_000_000+float64(i))
			o.CreatedAt = base.Add(time.Duration(i) * time.Hour)
			require.NoError(t, r.CommitOutcome(ctx, OutcomeCommit{Outcome: o}))
		}

		page, err := r.ListOutcomes(ctx, c.ID, 0, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, 1_000_000.0, page[0].ActualRevenue)
		assert.Equal(t, 1_000_001.0, page[1].ActualRevenue)

		all := collectOutcomes(t, r, c.ID, 2)
		require.Len(t, all, 5)
		assert.Equal(t, 1_000_004.0, all[4].ActualRevenue)

		trained := c.Clone()
		now := time.Now().UTC()
		trained.LastTrainedAt = &now
		require.NoError(t, r.CommitTraining(ctx, trained, 1))

		all = collectOutcomes(t, r, c.ID, 10)
		for _, o := range all {
			assert.True(t, o.UsedInTraining)
		}

		got, err := r.LoadConcept(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastTrainedAt)
		assert.WithinDuration(t, now, *got.LastTrainedAt, time.Second)
	})

	t.Run("ConcurrentSavesOneWins", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		c := testConcept("tenant-a", "QSR")
		require.NoError(t, r.CreateConcept(ctx, c))

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cp := c.Clone()
				cp.OutcomesCount = i + 1
				errs[i] = r.SaveConcept(ctx, cp, 1)
			}(i)
		}
		wg.Wait()

		var ok, conflicts int
		for _, err := range errs {
			var lock *model.OptimisticLockError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &lock):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, writers-1, conflicts)
	})

	t.Run("RejectsInvalidConcept", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(c *model.Concept)
		}{
			{
				name: "weights missing factors",
				mutate: func(c *model.Concept) {
					c.Weights = model.Weights{model.FactorPopulation: 0.3, model.FactorIncome: 0.1}
				},
			},
			{
				name: "weights off sum",
				mutate: func(c *model.Concept) {
					c.Weights[model.FactorPopulation] = 0.9
				},
			},
			{
				name: "income range inverted",
				mutate: func(c *model.Concept) {
					c.TargetIncomeMin, c.TargetIncomeMax = 90_000, 30_000
				},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r := newRepo(t)
				ctx := context.Background()

				bad := testConcept("tenant-a", "QSR")
				tt.mutate(bad)
				var invalid *model.InvalidConceptError
				require.True(t, errors.As(r.CreateConcept(ctx, bad), &invalid))

				list, err := r.ListConcepts(ctx, ConceptFilter{TenantID: "tenant-a", IncludeInactive: true})
				require.NoError(t, err)
				assert.Empty(t, list)

				c := testConcept("tenant-a", "QSR")
				require.NoError(t, r.CreateConcept(ctx, c))
				edited := c.Clone()
				tt.mutate(edited)
				require.True(t, errors.As(r.SaveConcept(ctx, edited, 1), &invalid))

				got, err := r.LoadConcept(ctx, c.ID)
				require.NoError(t, err)
				assert.Equal(t, int64(1), got.Version)
				assert.Equal(t, c.Weights, got.Weights)
				assert.Equal(t, c.TargetIncomeMin, got.TargetIncomeMin)
			})
		}
	})

	t.Run("ActiveConceptIsOldest", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		older := testConcept("tenant-a", "QSR")
		older.CreatedAt = base
		require.NoError(t, r.CreateConcept(ctx, older))
		newer := testConcept("tenant-a", "QSR")
		newer.CreatedAt = base.Add(time.Hour)
		require.NoError(t, r.CreateConcept(ctx, newer))

		found, err := r.FindActiveConcept(ctx, "tenant-a", "QSR")
		require.NoError(t, err)
		assert.Equal(t, older.ID, found.ID)

		newer.Name = "touched"
		require.NoError(t, r.SaveConcept(ctx, newer, 1))
		found, err = r.FindActiveConcept(ctx, "tenant-a", "QSR")
		require.NoError(t, err)
		assert.Equal(t, older.ID, found.ID)

		older.IsActive = false
		require.NoError(t, r.SaveConcept(ctx, older, 1))
		found, err = r.FindActiveConcept(ctx, "tenant-a", "QSR")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, found.ID)
	})

	t.Run("OneActiveSystemDefaultPerCategory", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		first := testConcept(model.SystemTenant, "QSR")
		first.IsSystemDefault = true
		require.NoError(t, r.CreateConcept(ctx, first))

		dup := testConcept(model.SystemTenant, "QSR")
		dup.IsSystemDefault = true
		require.Error(t, r.CreateConcept(ctx, dup))

		other := testConcept(model.SystemTenant, "Coffee")
		other.IsSystemDefault = true
		require.NoError(t, r.CreateConcept(ctx, other))

		retired := testConcept(model.SystemTenant, "QSR")
		retired.IsSystemDefault = true
		retired.IsActive = false
		require.NoError(t, r.CreateConcept(ctx, retired))
		retired.IsActive = true
		require.Error(t, r.SaveConcept(ctx, retired, 1))

		def, err := r.FindSystemDefault(ctx, "QSR")
		require.NoError(t, err)
		assert.Equal(t, first.ID, def.ID)
	})
}

func TestSQLiteRepository(t *testing.T) {
	repositoryTestSuite(t, newTestSQLite)
}

func TestMemoryRepository(t *testing.T) {
	repositoryTestSuite(t, newTestMemory)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	r, err := Open(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, r)

	r, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, r)
	require.NoError(t, r.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestLocationCodec(t *testing.T) {
	data, err := encodeLocation(&model.Location{Lat: 60.1699, Lng: 24.9384})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	loc, err := decodeLocation(data)
	require.NoError(t, err)
	assert.InDelta(t, 60.1699, loc.Lat, 1e-9)
	assert.InDelta(t, 24.9384, loc.Lng, 1e-9)

	data, err = encodeLocation(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	loc, err = decodeLocation(nil)
	require.NoError(t, err)
	assert.Nil(t, loc)

	_, err = decodeLocation([]byte{0x01, 0x02})
	assert.Error(t, err)
}
