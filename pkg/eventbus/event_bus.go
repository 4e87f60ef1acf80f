// Package eventbus provides event-driven communication infrastructure for workflow orchestration.
package eventbus

import (
	"context"

	"github.com/leadpilot/automation/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// MetadataCarrier is implemented by events that contribute message metadata, such as a priority hint.
type MetadataCarrier interface {
	MessageMetadata() map[string]string
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
