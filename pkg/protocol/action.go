package protocol

import "context"

// ActionKind names a side effect requested by an action node.
type ActionKind string

const (
	ActionSendEmail   ActionKind = "send_email"
	ActionWebhook     ActionKind = "webhook"
	ActionUpdateField ActionKind = "update_field"
	ActionAssignTag   ActionKind = "assign_tag"
	ActionAssignScore ActionKind = "assign_score"
)

// ActionRequest describes one side effect to be delivered by a collaborator.
type ActionRequest struct {
	Kind       ActionKind     `json:"kind"`
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	NodeID     string         `json:"node_id"`
	EntityID   string         `json:"entity_id,omitempty"`
	Params     map[string]any `json:"params"`
}

// IdempotencyKey identifies the request across retries of the same node visit.
func (r ActionRequest) IdempotencyKey() string {
	return r.RunID + ":" + r.NodeID + ":" + string(r.Kind)
}

// ActionDispatcher delivers action requests. Errors may be classified with Retryable or Permanent.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, req ActionRequest) (map[string]any, error)
}

// ActionDispatcherFunc adapts a function to ActionDispatcher.
type ActionDispatcherFunc func(ctx context.Context, req ActionRequest) (map[string]any, error)

func (f ActionDispatcherFunc) Dispatch(ctx context.Context, req ActionRequest) (map[string]any, error) {
	return f(ctx, req)
}
