// Package web provides the REST API over the automation engine.
package web

import (
	"time"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/protocol"
)

// WorkflowRequest is the body for creating or replacing a workflow definition.
type WorkflowRequest struct {
	ID          string                     `json:"id,omitempty"`
	Name        string                     `json:"name"                  validate:"required,min=3"`
	Description string                     `json:"description,omitempty"`
	Owner       string                     `json:"owner,omitempty"`
	Status      models.WorkflowStatus      `json:"status,omitempty"      validate:"omitempty,oneof=draft active paused archived"`
	Nodes       map[string]models.NodeSpec `json:"nodes"                 validate:"required,min=1"`
	Edges       []models.Edge              `json:"edges"`
	Triggers    []models.TriggerSpec       `json:"triggers,omitempty"`
	Variables   map[string]any             `json:"variables,omitempty"`
}

// Definition converts the request into a workflow definition.
func (r WorkflowRequest) Definition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Owner:       r.Owner,
		Status:      r.Status,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
		Triggers:    r.Triggers,
		Variables:   r.Variables,
	}
}

// UpdateStatusRequest is the body of PATCH /workflows/:id/status.
type UpdateStatusRequest struct {
	Status models.WorkflowStatus `json:"status" validate:"required,oneof=draft active paused archived"`
}

// ExecuteRequest is the body of POST /workflows/:id/execute. Timeout is a Go duration string.
type ExecuteRequest struct {
	UserID        string               `json:"user_id"                  validate:"required"`
	Payload       map[string]any       `json:"payload"`
	ExecutionMode models.ExecutionMode `json:"execution_mode,omitempty" validate:"omitempty,oneof=sync async"`
	Priority      models.Priority      `json:"priority,omitempty"       validate:"omitempty,oneof=low normal high"`
	Timeout       string               `json:"timeout,omitempty"`
	MaxRetries    *int                 `json:"max_retries,omitempty"    validate:"omitempty,gte=0,lte=20"`
}

// Command converts the request into an execute command for workflowID.
func (r ExecuteRequest) Command(workflowID string) (models.ExecuteWorkflowCommand, error) {
	cmd := models.ExecuteWorkflowCommand{
		WorkflowID:    workflowID,
		UserID:        r.UserID,
		Payload:       r.Payload,
		ExecutionMode: r.ExecutionMode,
		Priority:      r.Priority,
		MaxRetries:    r.MaxRetries,
	}

	if r.Timeout != "" {
		timeout, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return cmd, err
		}

		cmd.Timeout = &timeout
	}

	return cmd, nil
}

// ValidationResponse reports a definition that passed validation.
type ValidationResponse struct {
	Valid       bool     `json:"valid"`
	EntryNodeID string   `json:"entry_node_id"`
	Warnings    []string `json:"warnings"`
}

// EventResponse lists the runs a trigger event started.
type EventResponse struct {
	Started []*models.WorkflowExecution `json:"started"`
	Errors  []string                    `json:"errors,omitempty"`
}

// NodeTypeResponse describes a registered node type.
type NodeTypeResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// TransformNodeType builds the response for factory.
func TransformNodeType(factory protocol.NodeFactory) NodeTypeResponse {
	return NodeTypeResponse{
		ID:          factory.ID(),
		Name:        factory.Name(),
		Description: factory.Description(),
		Schema:      factory.Schema(),
	}
}
