package conditional

import (
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
)

// NewConditionalNodeFactory describes the condition node. Its schema lists every operator
// spelling, aliases included.
func NewConditionalNodeFactory() protocol.NodeFactory {
	return &base.Descriptor{
		Type:    "condition",
		Title:   "Condition",
		Summary: "Evaluates a condition and follows the outgoing edge labelled true or false",
		Config:  schema(),
		New:     func() protocol.NodeExecutor { return &Node{} },
	}
}

func schema() map[string]any {
	operators := make([]any, 0, len(Operators)+len(operatorAliases))
	for _, op := range Operators {
		operators = append(operators, op)
	}

	for alias := range operatorAliases {
		operators = append(operators, alias)
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template expression evaluated for truthiness",
				"examples": []string{
					`{{ gt (num .vars.score) 50.0 }}`,
					`{{ eq .vars.status "qualified" }}`,
				},
			},
			"field": map[string]any{
				"type":        "string",
				"description": "Dotted path of the context variable to compare",
				"examples":    []string{"score", "lead.status"},
			},
			"operator": map[string]any{
				"type": "string",
				"enum": operators,
			},
			"value": map[string]any{
				"description": "Value to compare against. Supports templating.",
			},
		},
		"oneOf": []any{
			map[string]any{"required": []string{"expression"}},
			map[string]any{"required": []string{"field"}},
		},
	}
}
