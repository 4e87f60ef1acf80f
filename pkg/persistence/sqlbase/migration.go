// Package sqlbase applies versioned schema migrations to PostgreSQL stores.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
)

// Migration is one schema change. Versions must be unique and positive.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator brings a database up to the latest known migration. Each migration runs in its own
// transaction holding an advisory lock, so processes starting together apply it once.
type Migrator struct {
	db         *sql.DB
	lockID     int64
	migrations []Migration
	logger     *slog.Logger
}

func NewMigrator(db *sql.DB, lockID int64, migrations []Migration, logger *slog.Logger) *Migrator {
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int { return a.Version - b.Version })

	return &Migrator{
		db:         db,
		lockID:     lockID,
		migrations: sorted,
		logger:     logger.With("module", "migrator"),
	}
}

func (m *Migrator) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return m.migrations[len(m.migrations)-1].Version
}

// Applied returns the highest recorded schema version.
func (m *Migrator) Applied(ctx context.Context) (int, error) {
	return currentVersion(ctx, m.db)
}

// Up applies every pending migration in version order and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied := 0

	for _, migration := range m.migrations {
		ran, err := m.apply(ctx, migration)
		if err != nil {
			return applied, err
		}

		if ran {
			applied++
		}
	}

	m.logger.InfoContext(ctx, "schema up to date", "version", m.Latest(), "applied", applied)

	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, migration Migration) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", m.lockID)
	if err != nil {
		return false, fmt.Errorf("failed to lock schema for migration %d: %w", migration.Version, err)
	}

	current, err := currentVersion(ctx, tx)
	if err != nil {
		return false, err
	}

	if current >= migration.Version {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, migration.SQL)
	if err != nil {
		return false, fmt.Errorf("failed to execute migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	_, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", migration.Version, migration.Name)
	if err != nil {
		return false, fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	err = tx.Commit()
	if err != nil {
		return false, fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}

	m.logger.InfoContext(ctx, "migration applied", "version", migration.Version, "name", migration.Name)

	return true, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentVersion(ctx context.Context, q queryer) (int, error) {
	var version int

	err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}

	return version, nil
}
