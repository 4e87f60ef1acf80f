package file

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository handles run records as one JSON file per run.
type ExecutionRepository struct {
	store *Persistence
}

// Find returns a run by its ID.
func (er *ExecutionRepository) Find(_ context.Context, id string) (*models.WorkflowExecution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("Find", id, err)
	}

	return er.load(id)
}

func (er *ExecutionRepository) load(id string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution

	found, err := er.store.read(executionsDir, id, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError("Find", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

// Create stores a new run at version 1.
func (er *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return er.store.withLock(ctx, func() error {
		var existing models.WorkflowExecution

		found, err := er.store.read(executionsDir, execution.ID, &existing)
		if err != nil {
			return fmt.Errorf("failed to check execution %s: %w", execution.ID, err)
		}

		if found {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		if execution.CreatedAt.IsZero() {
			execution.CreatedAt = time.Now().UTC()
		}

		if execution.UpdatedAt.IsZero() {
			execution.UpdatedAt = execution.CreatedAt
		}

		execution.Version = 1

		return er.store.write(executionsDir, execution.ID, execution)
	})
}

// Update stores the run when nobody else changed it since it was read.
func (er *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	return er.store.withLock(ctx, func() error {
		existing, err := er.load(execution.ID)
		if err != nil {
			return err
		}

		if existing.Version != execution.Version {
			return persistence.NewVersionConflictError("Update", execution.ID, execution.Version)
		}

		next := execution.Clone()
		next.Version++

		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = time.Now().UTC()
		}

		err = er.store.write(executionsDir, execution.ID, next)
		if err != nil {
			return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
		}

		execution.Version = next.Version
		execution.UpdatedAt = next.UpdatedAt

		return nil
	})
}

func (er *ExecutionRepository) all(match func(*models.WorkflowExecution) bool) ([]*models.WorkflowExecution, error) {
	ids, err := er.store.ids(executionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, id := range ids {
		execution, err := er.load(id)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		if match(execution) {
			executions = append(executions, execution)
		}
	}

	return executions, nil
}

// FindByWorkflow returns the newest runs of a workflow first. A limit of zero or less returns all.
func (er *ExecutionRepository) FindByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	executions, err := er.all(func(e *models.WorkflowExecution) bool { return e.WorkflowID == workflowID })
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

// FindByStatus returns every run in the given status, oldest first.
func (er *ExecutionRepository) FindByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	executions, err := er.all(func(e *models.WorkflowExecution) bool { return e.Status == status })
	if err != nil {
		return nil, err
	}

	sortOldestFirst(executions)

	return executions, nil
}

// FindDue returns due suspended runs, running runs with an expired lease and stale pending runs.
func (er *ExecutionRepository) FindDue(_ context.Context, query persistence.DueQuery) ([]*models.WorkflowExecution, error) {
	executions, err := er.all(func(e *models.WorkflowExecution) bool {
		_, ok := persistence.DueAt(e, query)

		return ok
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		a, _ := persistence.DueAt(executions[i], query)
		b, _ := persistence.DueAt(executions[j], query)

		return a.Before(b)
	})

	if query.Limit > 0 && len(executions) > query.Limit {
		executions = executions[:query.Limit]
	}

	return executions, nil
}

// CountActiveByUser counts the non-terminal runs of a user.
func (er *ExecutionRepository) CountActiveByUser(_ context.Context, userID string) (int, error) {
	executions, err := er.all(func(e *models.WorkflowExecution) bool {
		return e.UserID == userID && slices.Contains(models.ActiveExecutionStatuses, e.Status)
	})
	if err != nil {
		return 0, err
	}

	return len(executions), nil
}

func sortOldestFirst(executions []*models.WorkflowExecution) {
	sort.Slice(executions, func(i, j int) bool {
		if executions[i].CreatedAt.Equal(executions[j].CreatedAt) {
			return executions[i].ID < executions[j].ID
		}

		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})
}
