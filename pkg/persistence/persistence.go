// Package persistence defines the storage contracts for workflow definitions and execution records.
package persistence

import (
	"context"
	"time"

	"github.com/leadpilot/automation/pkg/models"
)

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Find(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Create(ctx context.Context, workflow *models.WorkflowDefinition) error
	Update(ctx context.Context, workflow *models.WorkflowDefinition) error
	Delete(ctx context.Context, id string) error
	FindByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowDefinition, error)
}

// DueQuery selects the runs a sweeper should advance.
type DueQuery struct {
	// Now selects suspended runs with ResumeAt at or before it and running runs whose lease ended by then.
	Now time.Time
	// PendingBefore selects pending runs last updated before it. The zero time selects none.
	PendingBefore time.Time
	// Limit of zero or less means the backend default.
	Limit int
}

// DueAt reports whether execution matches query and since when it has been due.
func DueAt(execution *models.WorkflowExecution, query DueQuery) (time.Time, bool) {
	switch execution.Status {
	case models.ExecutionStatusSuspended:
		if execution.ResumeAt != nil && !execution.ResumeAt.After(query.Now) {
			return *execution.ResumeAt, true
		}
	case models.ExecutionStatusRunning:
		if execution.LeaseUntil != nil && !execution.LeaseUntil.After(query.Now) {
			return *execution.LeaseUntil, true
		}
	case models.ExecutionStatusPending:
		if execution.UpdatedAt.Before(query.PendingBefore) {
			return execution.UpdatedAt, true
		}
	}

	return time.Time{}, false
}

// ExecutionRepository stores run records.
//
// Update is optimistic: it succeeds only when the stored Version equals execution.Version,
// and then increments execution.Version. Otherwise it returns ErrVersionConflict and
// leaves both the stored record and execution untouched.
//
// Timestamps belong to the caller. Stores keep CreatedAt and UpdatedAt as given and only
// fill zero values from the wall clock.
type ExecutionRepository interface {
	Find(ctx context.Context, id string) (*models.WorkflowExecution, error)
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	Update(ctx context.Context, execution *models.WorkflowExecution) error
	FindByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error)
	FindByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.WorkflowExecution, error)

	// FindDue returns the runs matching query, the longest overdue first.
	FindDue(ctx context.Context, query DueQuery) ([]*models.WorkflowExecution, error)

	// CountActiveByUser counts pending, running and suspended runs started by userID.
	CountActiveByUser(ctx context.Context, userID string) (int, error)
}

// Persistence groups the repositories of one storage backend.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
