package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Migration is one versioned schema change.
type Migration struct {
	Version string
	SQL     string
}

// Migrations is the ordered schema of the topic history store.
var Migrations = []Migration{
	{
		Version: "001_topic_history",
		SQL: `
			CREATE TABLE IF NOT EXISTS topic_history (
				fingerprint  TEXT PRIMARY KEY,
				topic_id     TEXT NOT NULL,
				title        TEXT NOT NULL,
				run_id       TEXT NOT NULL,
				delivered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
	{
		Version: "002_topic_history_delivered_at_idx",
		SQL:     `CREATE INDEX IF NOT EXISTS idx_topic_history_delivered_at ON topic_history (delivered_at)`,
	},
}

// RunMigrations applies every migration not yet recorded in schema_migrations.
func RunMigrations(ctx context.Context, db *sql.DB, migrations []Migration, logger *slog.Logger) error {
	logger.Info("checking for pending database migrations")

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	pendingCount := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		pendingCount++
		logger.Info("applying migration", "version", m.Version)

		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}

	if pendingCount == 0 {
		logger.Info("no pending migrations found")
	} else {
		logger.Info("migrations completed", "count", pendingCount)
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
	}
	return nil
}
