package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is one versioned schema step owned by a component.
type Migration struct {
	Component   string
	Version     int
	Description string
	SQL         string
}

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	component TEXT NOT NULL,
	version INT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (component, version)
)`

// Migrate applies each pending migration in order, one transaction per step.
// Sets are applied in the order given so later components may reference
// earlier tables. Concurrent migrators are serialised by an advisory lock.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, sets ...[]Migration) error {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := pool.Exec(ctx, migrationsTable); err != nil {
		return fmt.Errorf("platform/db: create migrations table: %w", err)
	}
	for _, set := range sets {
		for _, m := range set {
			applied, err := applyMigration(ctx, pool, m)
			if err != nil {
				return fmt.Errorf("platform/db: migration %s/%d (%s): %w", m.Component, m.Version, m.Description, err)
			}
			if applied {
				logger.Info("migration applied",
					slog.String("component", m.Component),
					slog.Int("version", m.Version),
					slog.String("description", m.Description))
			}
		}
	}
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m Migration) (bool, error) {
	applied := false
	err := WithTxOptions(ctx, pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('reqtrack_schema_migrations'))`); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE component = $1 AND version = $2)`, m.Component, m.Version).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (component, version, description) VALUES ($1, $2, $3)`, m.Component, m.Version, m.Description); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}
