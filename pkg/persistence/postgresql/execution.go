package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/persistence"
	"github.com/lib/pq"
)

// ExecutionRepository handles run records.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Find returns a run by its ID.
func (r *ExecutionRepository) Find(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT record, version, created_at, updated_at FROM workflow_executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("Find", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// Create inserts a new run at version 1.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	if execution.UpdatedAt.IsZero() {
		execution.UpdatedAt = execution.CreatedAt
	}

	execution.Version = 1

	record, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, user_id, status, resume_at, lease_until, version, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, execution.ID, execution.WorkflowID, execution.UserID, execution.Status, execution.ResumeAt, execution.LeaseUntil,
		execution.Version, record, execution.CreatedAt, execution.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return fmt.Errorf("failed to insert execution %s: %w", execution.ID, err)
	}

	return nil
}

// Update writes the run only when the stored version still equals execution.Version.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	next := execution.Clone()
	next.Version++

	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}

	record, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = $3, resume_at = $4, lease_until = $5, version = $6, record = $7, updated_at = $8, user_id = $9
		WHERE id = $1 AND version = $2
	`, execution.ID, execution.Version, next.Status, next.ResumeAt, next.LeaseUntil, next.Version, record, next.UpdatedAt, next.UserID)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, execution.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check execution %s: %w", execution.ID, err)
		}

		if !exists {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewVersionConflictError("Update", execution.ID, execution.Version)
	}

	execution.Version = next.Version
	execution.UpdatedAt = next.UpdatedAt

	return nil
}

// FindByWorkflow returns the newest runs of a workflow first. A limit of zero or less returns all.
func (r *ExecutionRepository) FindByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT record, version, created_at, updated_at
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []any{workflowID}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	return r.query(ctx, query, args...)
}

// FindByStatus returns every run in the given status, oldest first.
func (r *ExecutionRepository) FindByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	return r.query(ctx, `
		SELECT record, version, created_at, updated_at
		FROM workflow_executions
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
	`, string(status))
}

// FindDue returns runs that need a worker: suspended runs whose resume time has come, running
// runs whose lease ended and pending runs untouched since query.PendingBefore. The longest overdue come first.
func (r *ExecutionRepository) FindDue(ctx context.Context, query persistence.DueQuery) ([]*models.WorkflowExecution, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}

	return r.query(ctx, `
		SELECT record, version, created_at, updated_at
		FROM workflow_executions
		WHERE (status = 'suspended' AND resume_at IS NOT NULL AND resume_at <= $1)
		   OR (status = 'running' AND lease_until IS NOT NULL AND lease_until <= $1)
		   OR (status = 'pending' AND updated_at < $2)
		ORDER BY CASE status
		    WHEN 'suspended' THEN resume_at
		    WHEN 'running' THEN lease_until
		    ELSE updated_at
		END ASC, id ASC
		LIMIT $3
	`, query.Now.UTC(), query.PendingBefore.UTC(), limit)
}

// CountActiveByUser counts the non-terminal runs of a user.
func (r *ExecutionRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	statuses := make([]string, 0, len(models.ActiveExecutionStatuses))
	for _, status := range models.ActiveExecutionStatuses {
		statuses = append(statuses, string(status))
	}

	var count int

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_executions WHERE user_id = $1 AND status = ANY($2)
	`, userID, pq.Array(statuses)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active executions: %w", err)
	}

	return count, nil
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		record               []byte
		version              int64
		createdAt, updatedAt time.Time
	)

	err := row.Scan(&record, &version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var execution models.WorkflowExecution

	err = json.Unmarshal(record, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	execution.Version = version
	execution.CreatedAt = createdAt.UTC()
	execution.UpdatedAt = updatedAt.UTC()

	return &execution, nil
}
