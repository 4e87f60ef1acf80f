// Package action provides the side-effect nodes: e-mail, webhook, field update, tag and score.
// Delivery is delegated to a protocol.ActionDispatcher; context changes are applied only after
// the dispatcher succeeded, so a retried node never applies them twice.
package action

import (
	"context"
	"log/slog"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/template"
)

// ResultsVariable holds dispatcher responses keyed by node id.
const ResultsVariable = "node_results"

// kind describes one action node type.
type kind struct {
	id          protocol.ActionKind
	name        string
	description string
	schema      map[string]any

	// params validates the rendered config and returns the request parameters.
	params func(config map[string]any, execCtx *models.ExecutionContext) (map[string]any, error)

	// commit applies the node's effect on the context after a successful dispatch.
	commit func(params map[string]any, execCtx *models.ExecutionContext)
}

// Node executes one action kind.
type Node struct {
	base.Router

	kind       kind
	dispatcher protocol.ActionDispatcher
	logger     *slog.Logger
}

// Execute renders the config, dispatches the request and applies the context changes.
func (n *Node) Execute(ctx context.Context, node protocol.Node, execCtx *models.ExecutionContext) (protocol.Result, error) {
	rendered, err := template.RenderConfig(node.Config, execCtx)
	if err != nil {
		return protocol.Result{}, base.InvalidConfig("%v", err)
	}

	params, err := n.kind.params(rendered, execCtx)
	if err != nil {
		return protocol.Result{}, err
	}

	request := protocol.ActionRequest{
		Kind:       n.kind.id,
		RunID:      execCtx.RunID,
		WorkflowID: execCtx.WorkflowID,
		NodeID:     node.ID,
		EntityID:   execCtx.TriggerEntityID,
		Params:     params,
	}

	response, err := n.dispatcher.Dispatch(ctx, request)
	if err != nil {
		n.logger.WarnContext(ctx, "action dispatch failed",
			"node_id", node.ID,
			"action", n.kind.id,
			"retryable", protocol.IsRetryable(err),
			"error", err)

		return protocol.Result{}, err
	}

	if n.kind.commit != nil {
		n.kind.commit(params, execCtx)
	}

	if response != nil {
		results, _ := execCtx.Get(ResultsVariable, nil).(map[string]any)
		if results == nil {
			results = map[string]any{}
		}

		results[node.ID] = response
		execCtx.Set(ResultsVariable, results)
	}

	n.logger.DebugContext(ctx, "action dispatched", "node_id", node.ID, "action", n.kind.id)

	return protocol.Result{Output: map[string]any{"action": string(n.kind.id), "response": response}}, nil
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, protocol.ActionRequest) (map[string]any, error) {
	return nil, nil
}
