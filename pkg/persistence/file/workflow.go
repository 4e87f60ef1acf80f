package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/persistence"
)

const workflowsDir = "workflows"

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store *Persistence
}

// Find returns a workflow by its ID.
func (wr *WorkflowRepository) Find(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewWorkflowError("Find", id, err)
	}

	var workflow models.WorkflowDefinition

	found, err := wr.store.read(workflowsDir, id, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	if !found {
		return nil, persistence.NewWorkflowError("Find", id, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

// Create stores a new workflow. The ID must be set by the caller.
func (wr *WorkflowRepository) Create(ctx context.Context, workflow *models.WorkflowDefinition) error {
	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	return wr.store.withLock(ctx, func() error {
		var existing models.WorkflowDefinition

		found, err := wr.store.read(workflowsDir, workflow.ID, &existing)
		if err != nil {
			return fmt.Errorf("failed to check workflow %s: %w", workflow.ID, err)
		}

		if found {
			return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
		}

		if workflow.CreatedAt.IsZero() {
			workflow.CreatedAt = time.Now().UTC()
		}

		if workflow.UpdatedAt.IsZero() {
			workflow.UpdatedAt = workflow.CreatedAt
		}

		return wr.store.write(workflowsDir, workflow.ID, workflow)
	})
}

// Update replaces an existing workflow.
func (wr *WorkflowRepository) Update(ctx context.Context, workflow *models.WorkflowDefinition) error {
	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	return wr.store.withLock(ctx, func() error {
		var existing models.WorkflowDefinition

		found, err := wr.store.read(workflowsDir, workflow.ID, &existing)
		if err != nil {
			return fmt.Errorf("failed to fetch workflow %s: %w", workflow.ID, err)
		}

		if !found {
			return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound)
		}

		workflow.CreatedAt = existing.CreatedAt

		if workflow.UpdatedAt.IsZero() {
			workflow.UpdatedAt = time.Now().UTC()
		}

		return wr.store.write(workflowsDir, workflow.ID, workflow)
	})
}

// Delete removes a workflow by its ID.
func (wr *WorkflowRepository) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return wr.store.withLock(ctx, func() error {
		removed, err := wr.store.remove(workflowsDir, id)
		if err != nil {
			return fmt.Errorf("failed to delete workflow %s: %w", id, err)
		}

		if !removed {
			return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
		}

		return nil
	})
}

// FindByStatus returns every workflow in the given status, oldest first. An empty status matches all.
func (wr *WorkflowRepository) FindByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowDefinition, error) {
	ids, err := wr.store.ids(workflowsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.Find(ctx, id)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		if status == "" || workflow.Status == status {
			workflows = append(workflows, workflow)
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].ID < workflows[j].ID
		}

		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}
