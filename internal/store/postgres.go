package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescore/internal/db"
	"github.com/sells-group/sitescore/internal/model"
)

// Postgres error codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements Repository using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// pgQuerier is satisfied by both db.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const conceptColumns = `id, tenant_id, name, description, category, base_revenue, revenue_variance,
	target_income_min, target_income_max, optimal_population_density, target_competitors_per_1k,
	weights, outcomes_count, avg_prediction_error, last_trained_at, is_system_default, is_active,
	version, created_at, updated_at`

func (s *PostgresStore) CreateConcept(ctx context.Context, c *model.Concept) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = newID()
	}
	weights, err := encodeWeights(c.Weights)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Version = 1

	_, err = s.pool.Exec(ctx,
		`INSERT INTO concepts (`+conceptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		c.ID, c.TenantID, c.Name, c.Description, c.Category, c.BaseRevenue, c.RevenueVariance,
		c.TargetIncomeMin, c.TargetIncomeMax, c.OptimalPopulationDensity, c.TargetCompetitorsPer1k,
		weights, c.OutcomesCount, c.AvgPredictionError, c.LastTrainedAt, c.IsSystemDefault, c.IsActive,
		c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert concept %s", c.ID)
	}
	return nil
}

func (s *PostgresStore) LoadConcept(ctx context.Context, id string) (*model.Concept, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conceptColumns+` FROM concepts WHERE id = $1`, id)
	c, err := scanConcept(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.ConceptNotFoundError{ID: id}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load concept %s", id)
	}
	return c, nil
}

func (s *PostgresStore) SaveConcept(ctx context.Context, c *model.Concept, expectedVersion int64) error {
	return saveConceptPG(ctx, s.pool, c, expectedVersion)
}

// saveConceptPG updates every mutable column of c when the stored version
// still equals expectedVersion.
func saveConceptPG(ctx context.Context, q pgQuerier, c *model.Concept, expectedVersion int64) error {
	if err := c.Validate(); err != nil {
		return err
	}
	weights, err := encodeWeights(c.Weights)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tag, err := q.Exec(ctx,
		`UPDATE concepts SET name = $2, description = $3, category = $4, base_revenue = $5,
			revenue_variance = $6, target_income_min = $7, target_income_max = $8,
			optimal_population_density = $9, target_competitors_per_1k = $10, weights = $11,
			outcomes_count = $12, avg_prediction_error = $13, last_trained_at = $14,
			is_system_default = $15, is_active = $16, version = version + 1, updated_at = $17
		WHERE id = $1 AND version = $18`,
		c.ID, c.Name, c.Description, c.Category, c.BaseRevenue,
		c.RevenueVariance, c.TargetIncomeMin, c.TargetIncomeMax,
		c.OptimalPopulationDensity, c.TargetCompetitorsPer1k, weights,
		c.OutcomesCount, c.AvgPredictionError, c.LastTrainedAt,
		c.IsSystemDefault, c.IsActive, now, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update concept %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM concepts WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return eris.Wrapf(err, "postgres: check concept %s", c.ID)
		}
		if !exists {
			return &model.ConceptNotFoundError{ID: c.ID}
		}
		return &model.OptimisticLockError{ConceptID: c.ID, ExpectedVersion: expectedVersion}
	}

	nextVersion(c, expectedVersion)
	c.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListConcepts(ctx context.Context, filter ConceptFilter) ([]*model.Concept, error) {
	where, args := conceptFilterSQL(filter, func(n int) string { return fmt.Sprintf("$%d", n) })
	query := `SELECT ` + conceptColumns + ` FROM concepts WHERE ` + where + ` ORDER BY category, name, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list concepts")
	}
	defer rows.Close()

	var out []*model.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan concept")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate concepts")
}

// conceptFilterSQL renders filter as a WHERE clause using placeholder.
func conceptFilterSQL(filter ConceptFilter, placeholder func(int) string) (string, []any) {
	clauses := []string{"true"}
	var args []any

	if !filter.IncludeInactive {
		clauses = append(clauses, "is_active")
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, "category = "+placeholder(len(args)))
	}
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		tenant := "tenant_id = " + placeholder(len(args))
		if filter.IncludeSystem {
			tenant = "(" + tenant + " OR is_system_default)"
		}
		clauses = append(clauses, tenant)
	}
	return strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) FindActiveConcept(ctx context.Context, tenantID, category string) (*model.Concept, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conceptColumns+` FROM concepts
		WHERE tenant_id = $1 AND category = $2 AND is_active AND NOT is_system_default
		ORDER BY created_at, id LIMIT 1`,
		tenantID, category,
	)
	c, err := scanConcept(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.ConceptNotFoundError{Category: category}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find concept %s/%s", tenantID, category)
	}
	return c, nil
}

func (s *PostgresStore) FindSystemDefault(ctx context.Context, category string) (*model.Concept, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conceptColumns+` FROM concepts
		WHERE category = $1 AND is_system_default AND is_active LIMIT 1`,
		category,
	)
	c, err := scanConcept(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.ConceptNotFoundError{Category: category}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find system default %s", category)
	}
	return c, nil
}

func (s *PostgresStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	loc, err := encodeLocation(p.Location)
	if err != nil {
		return err
	}
	features, err := encodeFeatures(p.Features)
	if err != nil {
		return err
	}
	if features == nil {
		features = []byte("{}")
	}
	breakdown, err := encodeBreakdown(p.Breakdown)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO predictions (id, concept_id, concept_version, tenant_id, category, location,
			features, score, revenue_low, revenue_mid, revenue_high, confidence, breakdown, created_at)
		VALUES ($1, $2, $3, $4, $5, ST_GeomFromEWKB($6), $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, nullString(p.ConceptID), p.ConceptVersion, p.TenantID, p.Category, loc,
		features, p.Score, p.RevenueLow, p.RevenueMid, p.RevenueHigh, p.Confidence, breakdown, p.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert prediction %s", p.ID)
	}
	return nil
}

func (s *PostgresStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, concept_id, concept_version, tenant_id, category, ST_AsEWKB(location),
			features, score, revenue_low, revenue_mid, revenue_high, confidence, breakdown, created_at
		FROM predictions WHERE id = $1`,
		id,
	)
	p, err := scanPrediction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.PredictionNotFoundError{ID: id}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prediction %s", id)
	}
	return p, nil
}

const outcomeColumns = `id, prediction_id, concept_id, predicted_revenue, predicted_score, actual_revenue,
	variance_pct, features, opened_at, notes, used_in_training, created_at`

func (s *PostgresStore) GetOutcomeByPrediction(ctx context.Context, predictionID string) (*model.Outcome, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+outcomeColumns+` FROM outcomes WHERE prediction_id = $1`, predictionID)
	o, err := scanOutcome(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get outcome for prediction %s", predictionID)
	}
	return o, nil
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, conceptID string, offset, limit int) ([]model.Outcome, error) {
	if limit <= 0 {
		limit = DefaultOutcomePageSize
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE concept_id = $1
		ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		conceptID, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list outcomes for concept %s", conceptID)
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate outcomes")
}

func (s *PostgresStore) CommitOutcome(ctx context.Context, commit OutcomeCommit) error {
	o := commit.Outcome
	if o.ID == "" {
		o.ID = newID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	features, err := encodeFeatures(o.Features)
	if err != nil {
		return err
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if commit.Concept != nil {
			if err := saveConceptPG(ctx, tx, commit.Concept, commit.ExpectedVersion); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO outcomes (`+outcomeColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			o.ID, o.PredictionID, nullString(o.ConceptID), o.PredictedRevenue, o.PredictedScore,
			o.ActualRevenue, o.VariancePct, features, o.OpenedAt, o.Notes, false, o.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				switch pgErr.Code {
				case pgUniqueViolation:
					return &model.DuplicateOutcomeError{PredictionID: o.PredictionID}
				case pgForeignKeyViolation:
					return &model.PredictionNotFoundError{ID: o.PredictionID}
				}
			}
			return eris.Wrapf(err, "postgres: insert outcome for prediction %s", o.PredictionID)
		}

		if commit.Concept != nil && commit.MarkTrained {
			if err := markTrainedPG(ctx, tx, commit.Concept.ID); err != nil {
				return err
			}
			o.UsedInTraining = true
		}
		return nil
	})
}

func (s *PostgresStore) CommitTraining(ctx context.Context, c *model.Concept, expectedVersion int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := saveConceptPG(ctx, tx, c, expectedVersion); err != nil {
			return err
		}
		return markTrainedPG(ctx, tx, c.ID)
	})
}

func markTrainedPG(ctx context.Context, q pgQuerier, conceptID string) error {
	_, err := q.Exec(ctx,
		`UPDATE outcomes SET used_in_training = true WHERE concept_id = $1 AND NOT used_in_training`,
		conceptID,
	)
	return eris.Wrapf(err, "postgres: mark outcomes trained for concept %s", conceptID)
}

// nullString maps "" to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
