package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/leadpilot/automation/pkg/eventbus"
	"github.com/leadpilot/automation/pkg/events"
	"github.com/leadpilot/automation/pkg/mocks"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func deliveryHandler(t *testing.T, dispatcher protocol.ActionDispatcher) eventbus.EventHandler {
	t.Helper()

	var handler eventbus.EventHandler

	bus := &mocks.MockEventBus{}
	bus.On("Handle", events.ActionRequestedEvent, mock.Anything).Run(func(args mock.Arguments) {
		handler = args.Get(1).(eventbus.EventHandler)
	}).Return(nil)

	require.NoError(t, Deliver(bus, dispatcher, nil, protocol.ActionWebhook))
	require.NotNil(t, handler)

	return handler
}

func requested(kind protocol.ActionKind) *events.ActionRequested {
	return &events.ActionRequested{
		BaseEvent:   events.NewBaseEvent(events.ActionRequestedEvent, "wf-1"),
		ExecutionID: "run-1",
		NodeID:      "notify",
		Kind:        string(kind),
		Params:      map[string]any{"url": "https://hooks.example.com"},
	}
}

func TestDeliver(t *testing.T) {
	ctx := context.Background()
	recorder := NewRecorder()
	handler := deliveryHandler(t, recorder)

	require.NoError(t, handler(ctx, requested(protocol.ActionWebhook)))
	require.NoError(t, handler(ctx, requested(protocol.ActionSendEmail)))

	requests := recorder.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "run-1", requests[0].RunID)
	assert.Equal(t, "wf-1", requests[0].WorkflowID)
	assert.Equal(t, "run-1:notify:webhook", requests[0].IdempotencyKey())
}

func TestDeliver_FailureHandling(t *testing.T) {
	ctx := context.Background()
	recorder := NewRecorder()
	handler := deliveryHandler(t, recorder)

	recorder.FailNext(protocol.ActionWebhook, protocol.Retryable(errors.New("503")), protocol.Permanent(errors.New("404")))

	assert.Error(t, handler(ctx, requested(protocol.ActionWebhook)))
	assert.NoError(t, handler(ctx, requested(protocol.ActionWebhook)))
	assert.Empty(t, recorder.Requests())
}
