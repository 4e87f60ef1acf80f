package delay

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/protocol"
)

// NodeFactory creates delay nodes sharing one clock.
type NodeFactory struct {
	clock clockwork.Clock
}

func (f *NodeFactory) Create(context.Context) (protocol.NodeExecutor, error) {
	return NewNode(f.clock), nil
}

func (f *NodeFactory) ID() string {
	return "delay"
}

func (f *NodeFactory) Name() string {
	return "Delay"
}

func (f *NodeFactory) Description() string {
	return "Suspends the run for a duration or until a point in time, then continues"
}

func (f *NodeFactory) Schema() map[string]any {
	number := map[string]any{"type": "number", "minimum": 0}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        "string",
				"description": "Go duration string",
				"examples":    []string{"30s", "15m", "48h"},
			},
			"until": map[string]any{
				"type":        "string",
				"description": "RFC3339 time to resume at. Supports templating.",
				"examples":    []string{"2026-01-01T09:00:00Z", "{{ .vars.follow_up_at }}"},
			},
			"seconds": number,
			"delay":   number,
			"minutes": number,
			"hours":   number,
			"days":    number,
		},
		"anyOf": []any{
			map[string]any{"required": []string{"duration"}},
			map[string]any{"required": []string{"until"}},
			map[string]any{"required": []string{"seconds"}},
			map[string]any{"required": []string{"delay"}},
			map[string]any{"required": []string{"minutes"}},
			map[string]any{"required": []string{"hours"}},
			map[string]any{"required": []string{"days"}},
		},
	}
}

// NewNodeFactory creates a delay factory; a nil clock means the wall clock.
func NewNodeFactory(clock clockwork.Clock) protocol.NodeFactory {
	return &NodeFactory{clock: clock}
}
