// Package queue carries "advance this run" work items between the engine and its workers.
package queue

import (
	"context"
	"sync"

	"github.com/leadpilot/automation/pkg/eventbus"
	"github.com/leadpilot/automation/pkg/events"
	"github.com/leadpilot/automation/pkg/models"
)

// RunQueue accepts runs that need another tick. Priority is forwarded as an opaque hint.
type RunQueue interface {
	Enqueue(ctx context.Context, runID string, priority models.Priority) error
}

// TickHandler advances one run.
type TickHandler func(ctx context.Context, runID string) error

// EventBusQueue publishes execution.tick.requested events keyed by run id.
type EventBusQueue struct {
	publisher eventbus.EventPublisher
}

func NewEventBusQueue(publisher eventbus.EventPublisher) *EventBusQueue {
	return &EventBusQueue{publisher: publisher}
}

func (q *EventBusQueue) Enqueue(ctx context.Context, runID string, priority models.Priority) error {
	return q.publisher.Publish(ctx, runID, events.ExecutionTickRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionTickRequestedEvent, ""),
		ExecutionID: runID,
		Priority:    string(priority),
	})
}

// Consume routes tick events from subscriber to handler. A handler error nacks the event.
func Consume(subscriber eventbus.EventSubscriber, handler TickHandler) error {
	return subscriber.Handle(events.ExecutionTickRequestedEvent, func(ctx context.Context, event any) error {
		tick, ok := event.(*events.ExecutionTickRequested)
		if !ok {
			return nil
		}

		return handler(ctx, tick.ExecutionID)
	})
}

// Item is one enqueued run.
type Item struct {
	RunID    string
	Priority models.Priority
}

// MemoryQueue buffers enqueued runs until drained. It is used by the CLI and in tests.
type MemoryQueue struct {
	mu    sync.Mutex
	items []Item
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, runID string, priority models.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, Item{RunID: runID, Priority: priority})

	return nil
}

// Drain removes and returns everything enqueued so far, in order.
func (q *MemoryQueue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil

	return items
}

// Len is the number of buffered runs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// DrainTo runs handler for every buffered run, including runs the handler itself enqueues,
// until the queue is empty or limit items were handled.
func (q *MemoryQueue) DrainTo(ctx context.Context, handler TickHandler, limit int) (int, error) {
	handled := 0

	for handled < limit {
		items := q.Drain()
		if len(items) == 0 {
			break
		}

		for i, item := range items {
			if handled >= limit {
				q.mu.Lock()
				q.items = append(append([]Item(nil), items[i:]...), q.items...)
				q.mu.Unlock()

				return handled, nil
			}

			err := handler(ctx, item.RunID)
			if err != nil {
				return handled, err
			}

			handled++
		}
	}

	return handled, nil
}
