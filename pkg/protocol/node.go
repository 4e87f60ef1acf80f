// Package protocol defines the interfaces and contracts for pluggable node executors.
package protocol

import (
	"context"
	"time"

	"github.com/leadpilot/automation/pkg/models"
)

// Node is the node being executed: its id within the definition plus its declaration.
type Node struct {
	ID string
	models.NodeSpec
}

// Result is what a node executor returns on success.
type Result struct {
	// Output is merged into the execution context variables by the executor itself;
	// it is kept here for logging and events.
	Output map[string]any

	// Branch labels the outcome of branching nodes and is matched against edge conditions.
	Branch string

	// SuspendUntil, when set, suspends the run until the given time.
	SuspendUntil *time.Time
}

// Suspended reports whether the executor asked to suspend the run.
func (r Result) Suspended() bool {
	return r.SuspendUntil != nil
}

// NodeExecutor is a stateless strategy implementing one node type.
// Execute must never block for externally observable time; waits are returned as SuspendUntil.
type NodeExecutor interface {
	Execute(ctx context.Context, node Node, execCtx *models.ExecutionContext) (Result, error)

	// NextNodeID resolves the outgoing edge. An empty id with a nil error ends the run.
	NextNodeID(node Node, execCtx *models.ExecutionContext, result Result, outgoing []models.Edge) (string, error)
}

// NodeFactory creates node executors and provides metadata about the node type.
type NodeFactory interface {
	// Create creates the executor for this node type
	Create(ctx context.Context) (NodeExecutor, error)

	// ID returns the node type string used in definitions
	ID() string

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any
}
