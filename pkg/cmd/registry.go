// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/dispatch"
	"github.com/leadpilot/automation/pkg/eventbus"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/registry"
)

// NewRegistry registers the built-in nodes. Actions are published as action.requested events;
// without a publisher they are only recorded, which suits dry runs.
func NewRegistry(logger *slog.Logger, publisher eventbus.EventPublisher, clock clockwork.Clock) *registry.Registry {
	var fallback protocol.ActionDispatcher = dispatch.NewRecorder()
	if publisher != nil {
		fallback = dispatch.NewEventBusDispatcher(publisher)
	}

	return registry.NewDefaultRegistry(logger, registry.Dependencies{
		Dispatcher: dispatch.NewRouter(fallback),
		Clock:      clock,
		Logger:     logger,
	})
}
