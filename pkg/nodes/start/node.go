// Package start provides the entry and terminal nodes of a workflow graph.
package start

import (
	"context"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
)

// Node passes execution straight through to its outgoing edge.
type Node struct {
	base.Router
}

// Execute does nothing; the trigger payload is already in the context.
func (n *Node) Execute(_ context.Context, _ protocol.Node, _ *models.ExecutionContext) (protocol.Result, error) {
	return protocol.Result{}, nil
}

// EndNode terminates the run regardless of outgoing edges.
type EndNode struct{}

// Execute records the end of the run in the context.
func (n *EndNode) Execute(_ context.Context, node protocol.Node, execCtx *models.ExecutionContext) (protocol.Result, error) {
	execCtx.Set("ended_at_node", node.ID)

	return protocol.Result{}, nil
}

// NextNodeID always ends the run.
func (n *EndNode) NextNodeID(protocol.Node, *models.ExecutionContext, protocol.Result, []models.Edge) (string, error) {
	return "", nil
}
