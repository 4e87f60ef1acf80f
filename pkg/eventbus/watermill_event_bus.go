package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/leadpilot/automation/pkg/events"
)

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	if logger == nil {
		logger = slog.Default()
	}

	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "eventbus"),
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish sends event on the shared topic. key becomes the partition key.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	if carrier, ok := event.(MetadataCarrier); ok {
		for k, v := range carrier.MessageMetadata() {
			msg.Metadata.Set(k, v)
		}
	}

	return eb.publisher.Publish(events.Topic, msg)
}

func newEvent(eventType events.EventType) (any, bool) {
	switch eventType {
	case events.WorkflowExecutionStartedEvent:
		return &events.WorkflowExecutionStarted{}, true
	case events.WorkflowExecutionSuspendedEvent:
		return &events.WorkflowExecutionSuspended{}, true
	case events.WorkflowExecutionResumedEvent:
		return &events.WorkflowExecutionResumed{}, true
	case events.WorkflowExecutionCompletedEvent:
		return &events.WorkflowExecutionCompleted{}, true
	case events.WorkflowExecutionFailedEvent:
		return &events.WorkflowExecutionFailed{}, true
	case events.WorkflowExecutionCancelledEvent:
		return &events.WorkflowExecutionCancelled{}, true
	case events.NodeExecutionFinishedEvent:
		return &events.NodeExecutionFinished{}, true
	case events.NodeExecutionFailedEvent:
		return &events.NodeExecutionFailed{}, true
	case events.ActionRequestedEvent:
		return &events.ActionRequested{}, true
	case events.ExecutionTickRequestedEvent:
		return &events.ExecutionTickRequested{}, true
	case events.LeadCreatedEvent:
		return &events.LeadCreated{}, true
	case events.LeadStatusChangedEvent:
		return &events.LeadStatusChanged{}, true
	default:
		return nil, false
	}
}

// Subscribe starts delivering messages to the registered handlers until ctx is done.
// Messages without a handler are acked; a handler error nacks the message for redelivery.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			eb.mu.RLock()
			handler, exists := eb.subscriptions[eventType]
			eb.mu.RUnlock()

			if !exists {
				msg.Ack()

				continue
			}

			event, known := newEvent(eventType)
			if !known {
				eb.logger.WarnContext(ctx, "dropping message of unknown type", "event_type", eventType)
				msg.Ack()

				continue
			}

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				eb.logger.ErrorContext(ctx, "failed to decode event", "event_type", eventType, "error", err)
				msg.Ack()

				continue
			}

			err = handler(ctx, event)
			if err != nil {
				eb.logger.WarnContext(ctx, "event handler failed", "event_type", eventType, "error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	if eb.subscriber == nil {
		return nil
	}

	return eb.subscriber.Close()
}
