package action

import (
	"context"
	"log/slog"

	"github.com/leadpilot/automation/pkg/protocol"
)

// NodeFactory creates action nodes of one kind.
type NodeFactory struct {
	kind       kind
	dispatcher protocol.ActionDispatcher
	logger     *slog.Logger
}

func (f *NodeFactory) Create(context.Context) (protocol.NodeExecutor, error) {
	return &Node{kind: f.kind, dispatcher: f.dispatcher, logger: f.logger}, nil
}

func (f *NodeFactory) ID() string {
	return string(f.kind.id)
}

func (f *NodeFactory) Name() string {
	return f.kind.name
}

func (f *NodeFactory) Description() string {
	return f.kind.description
}

func (f *NodeFactory) Schema() map[string]any {
	return f.kind.schema
}

// NewNodeFactories creates one factory per action kind. A nil dispatcher only applies
// the context changes, which is what dry runs and validation need.
func NewNodeFactories(dispatcher protocol.ActionDispatcher, logger *slog.Logger) []protocol.NodeFactory {
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	factories := make([]protocol.NodeFactory, 0, len(kinds()))
	for _, k := range kinds() {
		factories = append(factories, &NodeFactory{
			kind:       k,
			dispatcher: dispatcher,
			logger:     logger.With("module", "action_node"),
		})
	}

	return factories
}
