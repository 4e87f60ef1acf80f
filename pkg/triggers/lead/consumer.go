// Package lead turns lead system events into workflow trigger events.
package lead

import (
	"context"
	"log/slog"

	"github.com/leadpilot/automation/pkg/eventbus"
	"github.com/leadpilot/automation/pkg/events"
	"github.com/leadpilot/automation/pkg/models"
)

// EventHandler starts the workflows matching a trigger event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event models.TriggerEvent) ([]*models.WorkflowExecution, error)
}

// ToTriggerEvent converts a decoded lead event. The lead id, and for status changes the
// from and to statuses, are added to the payload.
func ToTriggerEvent(event any) (models.TriggerEvent, bool) {
	switch e := event.(type) {
	case *events.LeadCreated:
		payload := copyPayload(e.Payload)
		payload["lead_id"] = e.LeadID

		return models.TriggerEvent{Type: models.TriggerTypeLeadCreated, UserID: e.UserID, Payload: payload}, true
	case *events.LeadStatusChanged:
		payload := copyPayload(e.Payload)
		payload["lead_id"] = e.LeadID
		payload["from"] = e.From
		payload["to"] = e.To

		return models.TriggerEvent{Type: models.TriggerTypeLeadStatusChanged, UserID: e.UserID, Payload: payload}, true
	default:
		return models.TriggerEvent{}, false
	}
}

// Consume registers handlers for lead events on subscriber. Events are acknowledged even
// when some workflow failed to start, so workflows that did start are not started twice.
func Consume(subscriber eventbus.EventSubscriber, handler EventHandler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "lead_trigger")

	handle := func(ctx context.Context, event any) error {
		trigger, ok := ToTriggerEvent(event)
		if !ok {
			return nil
		}

		started, err := handler.HandleEvent(ctx, trigger)
		if err != nil {
			logger.WarnContext(ctx, "some triggered workflows did not start",
				"trigger_type", trigger.Type,
				"user_id", trigger.UserID,
				"started", len(started),
				"error", err)
		}

		return nil
	}

	for _, eventType := range []events.EventType{events.LeadCreatedEvent, events.LeadStatusChangedEvent} {
		err := subscriber.Handle(eventType, handle)
		if err != nil {
			return err
		}
	}

	return nil
}

func copyPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+3)
	for key, value := range payload {
		out[key] = value
	}

	return out
}
