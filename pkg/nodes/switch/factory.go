package switchnode

import (
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
)

func NewSwitchNodeFactory() protocol.NodeFactory {
	scalar := map[string]any{"type": []string{"string", "number", "boolean"}}

	return &base.Descriptor{
		Type:    "switch",
		Title:   "Switch",
		Summary: "Multi-way branching node that follows the edge labelled with the matching case",
		Config: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value": map[string]any{
					"type":     "string",
					"examples": []string{`{{ .vars.lead.source }}`, `{{ .trigger_data.status }}`},
				},
				"cases": map[string]any{
					"type":        "array",
					"description": "Values to match; an object case may name the edge label to follow",
					"items": map[string]any{
						"oneOf": []any{
							scalar,
							map[string]any{
								"type": "object",
								"properties": map[string]any{
									"value": scalar,
									"label": map[string]any{"type": "string"},
								},
								"required": []string{"value"},
							},
						},
					},
				},
			},
			"required": []string{"value"},
		},
		New: func() protocol.NodeExecutor { return &Node{} },
	}
}
