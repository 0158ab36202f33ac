package db

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrateLockKey is the pg_advisory_xact_lock key serialising concurrent
// Migrate calls across processes. The lock is transaction scoped so it is
// always released on the connection that took it.
const migrateLockKey int64 = 0x5173_5c0e

const createVersionsTable = `CREATE TABLE IF NOT EXISTS schema_versions (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// MigrationNames lists the embedded migrations in the order Migrate applies
// them. Files are named NNN_description.sql.
func MigrationNames() ([]string, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, eris.Wrap(err, "db: list migrations")
	}
	for i, n := range names {
		names[i] = path.Base(n)
	}
	slices.Sort(names)
	return names, nil
}

// Migrate brings the schema up to date. Each pending migration runs in its
// own transaction together with its schema_versions row, so a failed file
// leaves no partial record behind. Every transaction takes the migrate lock
// and rechecks schema_versions, so concurrent callers apply each file once.
func Migrate(ctx context.Context, pool Pool) error {
	err := WithTx(ctx, pool, func(tx pgx.Tx) error {
		if err := lockMigrations(ctx, tx); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, createVersionsTable)
		return eris.Wrap(err, "db: create schema_versions")
	})
	if err != nil {
		return err
	}

	names, err := MigrationNames()
	if err != nil {
		return err
	}

	applied := 0
	for _, name := range names {
		ran, err := applyMigration(ctx, pool, name)
		if err != nil {
			return err
		}
		if ran {
			applied++
		}
	}

	zap.L().Info("db: schema up to date",
		zap.Int("applied", applied),
		zap.Int("total", len(names)),
	)
	return nil
}

func lockMigrations(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrateLockKey)
	return eris.Wrap(err, "db: migrate lock")
}

// applyMigration runs name unless schema_versions already records it and
// reports whether it ran.
func applyMigration(ctx context.Context, pool Pool, name string) (bool, error) {
	body, err := migrationFS.ReadFile("migrations/" + name)
	if err != nil {
		return false, eris.Wrapf(err, "db: read %s", name)
	}

	ran := false
	err = WithTx(ctx, pool, func(tx pgx.Tx) error {
		if err := lockMigrations(ctx, tx); err != nil {
			return err
		}
		var done bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_versions WHERE version = $1)", name,
		).Scan(&done); err != nil {
			return eris.Wrapf(err, "db: check %s", name)
		}
		if done {
			return nil
		}

		zap.L().Info("db: applying migration", zap.String("version", name))
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			return eris.Wrapf(err, "db: migration %s", name)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_versions (version) VALUES ($1)", name); err != nil {
			return eris.Wrapf(err, "db: record %s", name)
		}
		ran = true
		return nil
	})
	return ran, err
}
