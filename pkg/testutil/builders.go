// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/leadpilot/automation/pkg/models"
)

// CreateTestWorkflow creates a small active workflow: start -> tag -> end.
func CreateTestWorkflow(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	workflow := &models.WorkflowDefinition{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "Tags every new lead",
		Owner:       "user-1",
		Status:      models.WorkflowStatusActive,
		Nodes: map[string]models.NodeSpec{
			"start": {Type: "start", IsEntry: true},
			"tag":   {Type: "assign_tag", Config: map[string]any{"tag": "new"}},
			"end":   {Type: "end"},
		},
		Edges: []models.Edge{
			{From: "start", To: "tag"},
			{From: "tag", To: "end"},
		},
		Triggers:  []models.TriggerSpec{{Type: models.TriggerTypeLeadCreated}},
		Variables: map[string]any{"source": "test"},
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Status = status
	}
}

// WithNode adds or replaces a node.
func WithNode(id string, node models.NodeSpec) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Nodes[id] = node
	}
}

// WithEdges replaces the edge list.
func WithEdges(edges ...models.Edge) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Edges = edges
	}
}

// CreateTestExecution creates a pending run of workflow positioned at its entry node.
func CreateTestExecution(workflow *models.WorkflowDefinition, overrides ...func(*models.WorkflowExecution)) *models.WorkflowExecution {
	id := uuid.New().String()
	snapshot := workflow.Snapshot()

	execution := &models.WorkflowExecution{
		ID:            id,
		WorkflowID:    workflow.ID,
		UserID:        workflow.Owner,
		Definition:    snapshot,
		Status:        models.ExecutionStatusPending,
		CurrentNodeID: snapshot.EntryNodeID,
		Context:       models.NewExecutionContext(id, workflow.ID, workflow.Variables, map[string]any{"lead_id": "lead-1"}),
		MaxRetries:    3,
		Mode:          models.ExecutionModeAsync,
		Priority:      models.PriorityNormal,
		CreatedAt:     time.Now().UTC(),
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}

// WithExecutionStatus sets the run status.
func WithExecutionStatus(status models.ExecutionStatus) func(*models.WorkflowExecution) {
	return func(e *models.WorkflowExecution) {
		e.Status = status
	}
}

// WithResumeAt suspends the run until at.
func WithResumeAt(at time.Time) func(*models.WorkflowExecution) {
	return func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusSuspended
		e.ResumeAt = &at
	}
}

// WithUser sets the user that started the run.
func WithUser(userID string) func(*models.WorkflowExecution) {
	return func(e *models.WorkflowExecution) {
		e.UserID = userID
	}
}

// WithCreatedAt sets the creation time.
func WithCreatedAt(at time.Time) func(*models.WorkflowExecution) {
	return func(e *models.WorkflowExecution) {
		e.CreatedAt = at
	}
}

// WithUpdatedAt sets the last write time.
func WithUpdatedAt(at time.Time) func(*models.WorkflowExecution) {
	return func(e *models.WorkflowExecution) {
		e.UpdatedAt = at
	}
}

// WithLease marks the run as running on worker until the lease ends.
func WithLease(worker string, until time.Time) func(*models.WorkflowExecution) {
	return func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusRunning
		e.ClaimedBy = worker
		e.LeaseUntil = &until
	}
}
