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

const uniqueViolation = "23505"

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Find returns a workflow by its ID.
func (r *WorkflowRepository) Find(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document, created_at, updated_at FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("Find", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Create inserts a new workflow.
func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.WorkflowDefinition) error {
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = workflow.CreatedAt
	}

	document, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, owner, status, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, workflow.ID, workflow.Name, workflow.Owner, workflow.Status, document, workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
		}

		return fmt.Errorf("failed to insert workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// Update replaces an existing workflow, keeping its creation time.
func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.WorkflowDefinition) error {
	var createdAt time.Time

	err := r.db.QueryRowContext(ctx, `SELECT created_at FROM workflows WHERE id = $1`, workflow.ID).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to fetch workflow %s: %w", workflow.ID, err)
	}

	workflow.CreatedAt = createdAt.UTC()

	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = time.Now().UTC()
	}

	document, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflows
		SET name = $2, owner = $3, status = $4, document = $5, updated_at = $6
		WHERE id = $1
	`, workflow.ID, workflow.Name, workflow.Owner, workflow.Status, document, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update workflow %s: %w", workflow.ID, err)
	}

	return requireAffected(result, persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound))
}

// Delete removes a workflow by its ID.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return requireAffected(result, persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound))
}

// FindByStatus returns every workflow in the given status, oldest first. An empty status matches all.
func (r *WorkflowRepository) FindByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT document, created_at, updated_at
		FROM workflows
		WHERE $1 = '' OR status = $1
		ORDER BY created_at ASC, id ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func scanWorkflow(row scanner) (*models.WorkflowDefinition, error) {
	var (
		document             []byte
		createdAt, updatedAt time.Time
	)

	err := row.Scan(&document, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var workflow models.WorkflowDefinition

	err = json.Unmarshal(document, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	workflow.CreatedAt = createdAt.UTC()
	workflow.UpdatedAt = updatedAt.UTC()

	return &workflow, nil
}

func requireAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
