package dispatch

import (
	"context"
	"log/slog"

	"github.com/leadpilot/automation/pkg/eventbus"
	"github.com/leadpilot/automation/pkg/events"
	"github.com/leadpilot/automation/pkg/protocol"
)

// Deliver consumes action.requested events of the given kinds and hands them to dispatcher.
// Retryable failures nack the event for redelivery; permanent ones are logged and dropped.
// Events of other kinds are left to other consumers.
func Deliver(subscriber eventbus.EventSubscriber, dispatcher protocol.ActionDispatcher, logger *slog.Logger, kinds ...protocol.ActionKind) error {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "action_delivery")

	accepted := make(map[protocol.ActionKind]bool, len(kinds))
	for _, kind := range kinds {
		accepted[kind] = true
	}

	return subscriber.Handle(events.ActionRequestedEvent, func(ctx context.Context, event any) error {
		action, ok := event.(*events.ActionRequested)
		if !ok || !accepted[protocol.ActionKind(action.Kind)] {
			return nil
		}

		req := protocol.ActionRequest{
			Kind:       protocol.ActionKind(action.Kind),
			RunID:      action.ExecutionID,
			WorkflowID: action.WorkflowID,
			NodeID:     action.NodeID,
			EntityID:   action.EntityID,
			Params:     action.Params,
		}

		_, err := dispatcher.Dispatch(ctx, req)
		if err == nil {
			logger.DebugContext(ctx, "action delivered", "idempotency_key", action.IdempotencyKey)

			return nil
		}

		if protocol.IsRetryable(err) {
			return err
		}

		logger.ErrorContext(ctx, "dropping undeliverable action",
			"execution_id", action.ExecutionID,
			"node_id", action.NodeID,
			"kind", action.Kind,
			"error", err)

		return nil
	})
}
