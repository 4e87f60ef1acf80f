package registry

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/nodes/action"
	"github.com/leadpilot/automation/pkg/nodes/conditional"
	"github.com/leadpilot/automation/pkg/nodes/delay"
	lognode "github.com/leadpilot/automation/pkg/nodes/log"
	"github.com/leadpilot/automation/pkg/nodes/start"
	switchnode "github.com/leadpilot/automation/pkg/nodes/switch"
	"github.com/leadpilot/automation/pkg/nodes/transform"
	"github.com/leadpilot/automation/pkg/protocol"
)

// Dependencies are the collaborators the built-in nodes need.
type Dependencies struct {
	Dispatcher protocol.ActionDispatcher
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// RegisterDefaultNodes registers all built-in node factories with the registry.
func (r *Registry) RegisterDefaultNodes(deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = r.logger
	}

	r.RegisterNode(start.NewStartNodeFactory())
	r.RegisterNode(start.NewTriggerNodeFactory())
	r.RegisterNode(start.NewEndNodeFactory())

	r.RegisterNode(delay.NewNodeFactory(deps.Clock))
	r.RegisterNode(conditional.NewConditionalNodeFactory())
	r.RegisterNode(switchnode.NewSwitchNodeFactory())
	r.RegisterNode(transform.NewTransformNodeFactory())
	r.RegisterNode(lognode.NewLogNodeFactory(logger))

	for _, factory := range action.NewNodeFactories(deps.Dispatcher, logger) {
		r.RegisterNode(factory)
	}
}

// NewDefaultRegistry creates a registry with every built-in node registered.
func NewDefaultRegistry(logger *slog.Logger, deps Dependencies) *Registry {
	r := NewRegistry(logger)
	r.RegisterDefaultNodes(deps)

	return r
}
