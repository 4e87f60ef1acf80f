// Package postgresql stores workflow definitions and run records in PostgreSQL.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leadpilot/automation/pkg/persistence"
	"github.com/leadpilot/automation/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

type Persistence struct {
	db         *sql.DB
	migrator   *sqlbase.Migrator
	workflows  *WorkflowRepository
	executions *ExecutionRepository
}

// NewPersistence connects to databaseURL and migrates the schema before returning.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	p := &Persistence{
		db:         db,
		migrator:   sqlbase.NewMigrator(db, migrationLockID, migrations, logger),
		workflows:  NewWorkflowRepository(db, logger),
		executions: NewExecutionRepository(db, logger),
	}

	err = p.HealthCheck(ctx)
	if err == nil {
		_, err = p.migrator.Up(ctx)
	}

	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return p, nil
}

// SchemaVersion reports the applied migration version.
func (p *Persistence) SchemaVersion(ctx context.Context) (int, error) {
	return p.migrator.Applied(ctx)
}

func (p *Persistence) Close(_ context.Context) error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
