// Package switchnode provides the multi-way branching node.
package switchnode

import (
	"context"
	"strings"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/template"
)

const BranchDefault = "default"

// Case maps a matched value to the branch label used on outgoing edges.
type Case struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Node renders a value and routes to the edge labelled with the matching case.
type Node struct {
	base.Router
}

// Execute evaluates the value and labels the branch with the matched case or "default".
func (n *Node) Execute(_ context.Context, node protocol.Node, execCtx *models.ExecutionContext) (protocol.Result, error) {
	expression, err := base.RequiredString(node.Config, "value")
	if err != nil {
		return protocol.Result{}, err
	}

	cases, err := parseCases(node.Config["cases"])
	if err != nil {
		return protocol.Result{}, err
	}

	rendered, err := template.RenderWithContext(expression, execCtx)
	if err != nil {
		return protocol.Result{}, base.InvalidConfig("value evaluation failed: %v", err)
	}

	value := models.FormatValue(rendered)
	branch := BranchDefault

	for _, c := range cases {
		if strings.EqualFold(c.Value, value) {
			branch = c.Label

			break
		}
	}

	return protocol.Result{
		Output: map[string]any{
			"matched_value": value,
			"branch":        branch,
		},
		Branch: branch,
	}, nil
}

// parseCases accepts a list of plain values or of {value, label} objects.
func parseCases(raw any) ([]Case, error) {
	if raw == nil {
		return nil, nil
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, base.InvalidConfig("cases must be a list")
	}

	cases := make([]Case, 0, len(list))

	for i, item := range list {
		switch v := item.(type) {
		case map[string]any:
			value, ok := base.String(v, "value")
			if !ok {
				return nil, base.InvalidConfig("case %d missing 'value'", i)
			}

			label, ok := base.String(v, "label")
			if !ok {
				label = value
			}

			cases = append(cases, Case{Value: value, Label: label})
		case nil:
			return nil, base.InvalidConfig("case %d is empty", i)
		default:
			value := models.FormatValue(v)
			cases = append(cases, Case{Value: value, Label: value})
		}
	}

	return cases, nil
}
