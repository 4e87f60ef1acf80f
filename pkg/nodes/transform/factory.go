package transform

import (
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
)

// NewTransformNodeFactory describes the set_variables node.
func NewTransformNodeFactory() protocol.NodeFactory {
	return &base.Descriptor{
		Type:    "set_variables",
		Title:   "Set Variables",
		Summary: "Renders values with templating and stores them as run variables",
		Config: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"variables": map[string]any{
					"type":          "object",
					"minProperties": 1,
					"examples": []map[string]any{
						{"full_name": "{{ .vars.first_name }} {{ .vars.last_name }}"},
						{"segment": "enterprise", "follow_up": true},
					},
				},
			},
			"required": []string{"variables"},
		},
		New: func() protocol.NodeExecutor { return &Node{} },
	}
}
