package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/sitescore/internal/model"
)

// SQLiteStore implements Repository using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS concepts (
	id                         TEXT PRIMARY KEY,
	tenant_id                  TEXT NOT NULL,
	name                       TEXT NOT NULL,
	description                TEXT NOT NULL DEFAULT '',
	category                   TEXT NOT NULL,
	base_revenue               REAL NOT NULL,
	revenue_variance           REAL NOT NULL,
	target_income_min          REAL NOT NULL,
	target_income_max          REAL NOT NULL,
	optimal_population_density REAL NOT NULL,
	target_competitors_per_1k  REAL NOT NULL,
	weights                    TEXT NOT NULL,
	outcomes_count             INTEGER NOT NULL DEFAULT 0,
	avg_prediction_error       REAL,
	last_trained_at            DATETIME,
	is_system_default          INTEGER NOT NULL DEFAULT 0,
	is_active                  INTEGER NOT NULL DEFAULT 1,
	version                    INTEGER NOT NULL DEFAULT 1,
	created_at                 DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at                 DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_concepts_tenant_category ON concepts(tenant_id, category);
CREATE UNIQUE INDEX IF NOT EXISTS idx_concepts_system_default
	ON concepts(category) WHERE is_system_default = 1 AND is_active = 1;

CREATE TABLE IF NOT EXISTS predictions (
	id              TEXT PRIMARY KEY,
	concept_id      TEXT REFERENCES concepts(id),
	concept_version INTEGER NOT NULL DEFAULT 0,
	tenant_id       TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL,
	location        BLOB,
	features        TEXT NOT NULL,
	score           REAL NOT NULL,
	revenue_low     REAL NOT NULL,
	revenue_mid     REAL NOT NULL,
	revenue_high    REAL NOT NULL,
	confidence      REAL NOT NULL,
	breakdown       TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_predictions_concept ON predictions(concept_id);

CREATE TABLE IF NOT EXISTS outcomes (
	id                TEXT PRIMARY KEY,
	prediction_id     TEXT NOT NULL UNIQUE REFERENCES predictions(id),
	concept_id        TEXT REFERENCES concepts(id),
	predicted_revenue REAL NOT NULL,
	predicted_score   REAL NOT NULL,
	actual_revenue    REAL NOT NULL,
	variance_pct      REAL NOT NULL,
	features          TEXT,
	opened_at         DATETIME NOT NULL,
	notes             TEXT NOT NULL DEFAULT '',
	used_in_training  INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_outcomes_concept_created ON outcomes(concept_id, created_at, id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlExecer is satisfied by both *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) CreateConcept(ctx context.Context, c *model.Concept) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO concepts (`+conceptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.Name, c.Description, c.Category, c.BaseRevenue, c.RevenueVariance,
		c.TargetIncomeMin, c.TargetIncomeMax, c.OptimalPopulationDensity, c.TargetCompetitorsPer1k,
		string(weights), c.OutcomesCount, c.AvgPredictionError, c.LastTrainedAt, c.IsSystemDefault, c.IsActive,
		c.Version, c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert concept %s", c.ID)
}

func (s *SQLiteStore) LoadConcept(ctx context.Context, id string) (*model.Concept, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conceptColumns+` FROM concepts WHERE id = ?`, id)
	c, err := scanConcept(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.ConceptNotFoundError{ID: id}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load concept %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) SaveConcept(ctx context.Context, c *model.Concept, expectedVersion int64) error {
	return saveConceptSQLite(ctx, s.db, c, expectedVersion)
}

func saveConceptSQLite(ctx context.Context, q sqlExecer, c *model.Concept, expectedVersion int64) error {
	if err := c.Validate(); err != nil {
		return err
	}
	weights, err := encodeWeights(c.Weights)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := q.ExecContext(ctx,
		`UPDATE concepts SET name = ?, description = ?, category = ?, base_revenue = ?,
			revenue_variance = ?, target_income_min = ?, target_income_max = ?,
			optimal_population_density = ?, target_competitors_per_1k = ?, weights = ?,
			outcomes_count = ?, avg_prediction_error = ?, last_trained_at = ?,
			is_system_default = ?, is_active = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		c.Name, c.Description, c.Category, c.BaseRevenue,
		c.RevenueVariance, c.TargetIncomeMin, c.TargetIncomeMax,
		c.OptimalPopulationDensity, c.TargetCompetitorsPer1k, string(weights),
		c.OutcomesCount, c.AvgPredictionError, c.LastTrainedAt,
		c.IsSystemDefault, c.IsActive, now,
		c.ID, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update concept %s", c.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var exists bool
		if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM concepts WHERE id = ?)`, c.ID).Scan(&exists); err != nil {
			return eris.Wrapf(err, "sqlite: check concept %s", c.ID)
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

func (s *SQLiteStore) ListConcepts(ctx context.Context, filter ConceptFilter) ([]*model.Concept, error) {
	where, args := conceptFilterSQL(filter, func(int) string { return "?" })
	query := `SELECT ` + conceptColumns + ` FROM concepts WHERE ` + where + ` ORDER BY category, name, id`
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list concepts")
	}
	defer rows.Close()

	var out []*model.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan concept")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate concepts")
}

func (s *SQLiteStore) FindActiveConcept(ctx context.Context, tenantID, category string) (*model.Concept, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conceptColumns+` FROM concepts
		WHERE tenant_id = ? AND category = ? AND is_active = 1 AND is_system_default = 0
		ORDER BY created_at, id LIMIT 1`,
		tenantID, category,
	)
	c, err := scanConcept(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.ConceptNotFoundError{Category: category}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find concept %s/%s", tenantID, category)
	}
	return c, nil
}

func (s *SQLiteStore) FindSystemDefault(ctx context.Context, category string) (*model.Concept, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conceptColumns+` FROM concepts
		WHERE category = ? AND is_system_default = 1 AND is_active = 1 LIMIT 1`,
		category,
	)
	c, err := scanConcept(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.ConceptNotFoundError{Category: category}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find system default %s", category)
	}
	return c, nil
}

func (s *SQLiteStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, concept_id, concept_version, tenant_id, category, location,
			features, score, revenue_low, revenue_mid, revenue_high, confidence, breakdown, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullString(p.ConceptID), p.ConceptVersion, p.TenantID, p.Category, loc,
		string(features), p.Score, p.RevenueLow, p.RevenueMid, p.RevenueHigh, p.Confidence, string(breakdown), p.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert prediction %s", p.ID)
}

func (s *SQLiteStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, concept_id, concept_version, tenant_id, category, location,
			features, score, revenue_low, revenue_mid, revenue_high, confidence, breakdown, created_at
		FROM predictions WHERE id = ?`,
		id,
	)
	p, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.PredictionNotFoundError{ID: id}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prediction %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) GetOutcomeByPrediction(ctx context.Context, predictionID string) (*model.Outcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM outcomes WHERE prediction_id = ?`, predictionID)
	o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get outcome for prediction %s", predictionID)
	}
	return o, nil
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, conceptID string, offset, limit int) ([]model.Outcome, error) {
	if limit <= 0 {
		limit = DefaultOutcomePageSize
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE concept_id = ?
		ORDER BY created_at, id LIMIT ? OFFSET ?`,
		conceptID, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list outcomes for concept %s", conceptID)
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate outcomes")
}

func (s *SQLiteStore) CommitOutcome(ctx context.Context, commit OutcomeCommit) error {
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
	var featuresText any
	if features != nil {
		featuresText = string(features)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if commit.Concept != nil {
			if err := saveConceptSQLite(ctx, tx, commit.Concept, commit.ExpectedVersion); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO outcomes (`+outcomeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.PredictionID, nullString(o.ConceptID), o.PredictedRevenue, o.PredictedScore,
			o.ActualRevenue, o.VariancePct, featuresText, o.OpenedAt, o.Notes, false, o.CreatedAt,
		)
		if err != nil {
			switch constraintKind(err) {
			case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
				return &model.DuplicateOutcomeError{PredictionID: o.PredictionID}
			case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
				return &model.PredictionNotFoundError{ID: o.PredictionID}
			}
			return eris.Wrapf(err, "sqlite: insert outcome for prediction %s", o.PredictionID)
		}

		if commit.Concept != nil && commit.MarkTrained {
			if err := markTrainedSQLite(ctx, tx, commit.Concept.ID); err != nil {
				return err
			}
			o.UsedInTraining = true
		}
		return nil
	})
}

func (s *SQLiteStore) CommitTraining(ctx context.Context, c *model.Concept, expectedVersion int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := saveConceptSQLite(ctx, tx, c, expectedVersion); err != nil {
			return err
		}
		return markTrainedSQLite(ctx, tx, c.ID)
	})
}

func markTrainedSQLite(ctx context.Context, q sqlExecer, conceptID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE outcomes SET used_in_training = 1 WHERE concept_id = ? AND used_in_training = 0`,
		conceptID,
	)
	return eris.Wrapf(err, "sqlite: mark outcomes trained for concept %s", conceptID)
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// constraintKind returns the extended SQLite constraint code for err, or 0.
// The message is consulted when the driver reports only the primary code.
func constraintKind(err error) int {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return 0
	}
	if se.Code() != sqlite3.SQLITE_CONSTRAINT {
		return se.Code()
	}
	msg := se.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return sqlite3.SQLITE_CONSTRAINT_UNIQUE
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return sqlite3.SQLITE_CONSTRAINT
}
