// Package transform provides the node that writes rendered values into the run variables.
package transform

import (
	"context"
	"sort"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/template"
)

// Node renders every entry of its "variables" config and stores it in the context.
type Node struct {
	base.Router
}

func (n *Node) Execute(_ context.Context, node protocol.Node, execCtx *models.ExecutionContext) (protocol.Result, error) {
	variables := base.Map(node.Config, "variables")
	if len(variables) == 0 {
		return protocol.Result{}, base.InvalidConfig("variables must be a non-empty object")
	}

	rendered, err := template.RenderConfig(variables, execCtx)
	if err != nil {
		return protocol.Result{}, base.InvalidConfig("%v", err)
	}

	keys := make([]string, 0, len(rendered))
	for key := range rendered {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		execCtx.Set(key, rendered[key])
	}

	return protocol.Result{Output: rendered}, nil
}
