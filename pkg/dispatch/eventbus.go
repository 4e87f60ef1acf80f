// Package dispatch delivers the side effects requested by action nodes.
package dispatch

import (
	"context"
	"fmt"

	"github.com/leadpilot/automation/pkg/eventbus"
	"github.com/leadpilot/automation/pkg/events"
	"github.com/leadpilot/automation/pkg/protocol"
)

// EventBusDispatcher hands every request to downstream delivery workers as an action.requested event.
type EventBusDispatcher struct {
	publisher eventbus.EventPublisher
}

func NewEventBusDispatcher(publisher eventbus.EventPublisher) *EventBusDispatcher {
	return &EventBusDispatcher{publisher: publisher}
}

// Dispatch publishes the request keyed by run id. Publish failures are retryable.
func (d *EventBusDispatcher) Dispatch(ctx context.Context, req protocol.ActionRequest) (map[string]any, error) {
	event := events.ActionRequested{
		BaseEvent:      events.NewBaseEvent(events.ActionRequestedEvent, req.WorkflowID),
		ExecutionID:    req.RunID,
		NodeID:         req.NodeID,
		Kind:           string(req.Kind),
		EntityID:       req.EntityID,
		Params:         req.Params,
		IdempotencyKey: req.IdempotencyKey(),
	}

	err := d.publisher.Publish(ctx, req.RunID, event)
	if err != nil {
		return nil, protocol.Retryable(fmt.Errorf("failed to publish %s action: %w", req.Kind, err))
	}

	return map[string]any{
		"queued":          true,
		"event_id":        event.ID,
		"idempotency_key": event.IdempotencyKey,
	}, nil
}
