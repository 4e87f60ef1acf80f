package start

import (
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
)

const entrySummary = "Entry point of the workflow; continues to the next node without side effects"

func NewStartNodeFactory() protocol.NodeFactory {
	return &base.Descriptor{
		Type:    "start",
		Title:   "Start",
		Summary: entrySummary,
		New:     func() protocol.NodeExecutor { return &Node{} },
	}
}

// NewTriggerNodeFactory registers the same pass-through node under "trigger".
func NewTriggerNodeFactory() protocol.NodeFactory {
	return &base.Descriptor{
		Type:    "trigger",
		Title:   "Trigger",
		Summary: entrySummary,
		New:     func() protocol.NodeExecutor { return &Node{} },
	}
}

func NewEndNodeFactory() protocol.NodeFactory {
	return &base.Descriptor{
		Type:    "end",
		Title:   "End",
		Summary: "Terminates the run as completed",
		New:     func() protocol.NodeExecutor { return &EndNode{} },
	}
}
