package models

import "time"

// ExecuteWorkflowCommand requests a new run. Optional fields fall back to engine defaults.
type ExecuteWorkflowCommand struct {
	WorkflowID    string         `json:"workflow_id"              validate:"required"`
	UserID        string         `json:"user_id"                  validate:"required"`
	Payload       map[string]any `json:"payload"`
	ExecutionMode ExecutionMode  `json:"execution_mode,omitempty" validate:"omitempty,oneof=sync async"`
	Priority      Priority       `json:"priority,omitempty"       validate:"omitempty,oneof=low normal high"`
	Timeout       *time.Duration `json:"timeout,omitempty"        validate:"omitempty,gt=0"`
	MaxRetries    *int           `json:"max_retries,omitempty"    validate:"omitempty,gte=0,lte=20"`
}

// UpdateWorkflowStatusCommand moves a workflow definition through its lifecycle.
type UpdateWorkflowStatusCommand struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	NewStatus  WorkflowStatus `json:"new_status"  validate:"required,oneof=draft active paused archived"`
}

// TriggerEvent is an external business event that may start workflows.
type TriggerEvent struct {
	Type    TriggerType    `json:"type"    validate:"required"`
	UserID  string         `json:"user_id" validate:"required"`
	Payload map[string]any `json:"payload"`
}
