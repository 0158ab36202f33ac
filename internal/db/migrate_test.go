package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestMigrationNames(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_concepts.sql", "002_predictions.sql", "003_outcomes.sql"}, names)
}

func expectVersionsTable(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(migrateLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_versions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()
}

func expectVersionCheck(mock pgxmock.PgxPoolIface, name string, done bool) {
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(migrateLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(name).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(done))
}

func TestMigrate(t *testing.T) {
	all, err := MigrationNames()
	require.NoError(t, err)

	tests := []struct {
		name    string
		applied []string
	}{
		{name: "fresh database"},
		{name: "partially migrated", applied: all[:1]},
		{name: "up to date", applied: all},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			expectVersionsTable(mock)

			for i, name := range all {
				done := i < len(tt.applied)
				expectVersionCheck(mock, name, done)
				if !done {
					mock.ExpectExec(".+").WillReturnResult(pgxmock.NewResult("CREATE", 0))
					mock.ExpectExec("INSERT INTO schema_versions").WithArgs(name).
						WillReturnResult(pgxmock.NewResult("INSERT", 1))
				}
				mock.ExpectCommit()
			}

			require.NoError(t, Migrate(context.Background(), mock))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMigrate_FailedMigrationRollsBack(t *testing.T) {
	mock := newMock(t)
	expectVersionsTable(mock)
	expectVersionCheck(mock, "001_concepts.sql", false)
	mock.ExpectExec(".+").WillReturnError(errors.New(`extension "postgis" is not available`))
	mock.ExpectRollback()

	err := Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: migration 001_concepts.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_LockError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: migrate lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx(t *testing.T) {
	stale := errors.New("stale version")

	tests := []struct {
		name  string
		setup func(m pgxmock.PgxPoolIface)
		fn    func(tx pgx.Tx) error
		check func(t *testing.T, err error)
	}{
		{
			name: "commit",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectExec("UPDATE concepts").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				m.ExpectCommit()
			},
			fn: func(tx pgx.Tx) error {
				_, err := tx.Exec(context.Background(), "UPDATE concepts SET is_active = false")
				return err
			},
			check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name: "rollback keeps error identity",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectRollback()
			},
			fn:    func(pgx.Tx) error { return stale },
			check: func(t *testing.T, err error) { assert.Same(t, stale, err) },
		},
		{
			name: "begin fails",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin().WillReturnError(errors.New("pool closed"))
			},
			fn: func(pgx.Tx) error { return nil },
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "db: begin tx")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setup(mock)
			tt.check(t, WithTx(context.Background(), mock, tt.fn))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
