package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leadpilot/automation/pkg/events"
	"github.com/leadpilot/automation/pkg/mocks"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func webhookRequest(url string) protocol.ActionRequest {
	return protocol.ActionRequest{
		Kind:   protocol.ActionWebhook,
		RunID:  "run-1",
		NodeID: "notify",
		Params: map[string]any{
			"url":     url,
			"method":  http.MethodPost,
			"headers": map[string]any{"X-Lead": "lead-1"},
			"body":    map[string]any{"score": 80},
		},
	}
}

func TestWebhookDispatcher_Success(t *testing.T) {
	var (
		gotBody    map[string]any
		gotHeaders http.Header
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	result, err := NewWebhookDispatcher(nil, nil).Dispatch(context.Background(), webhookRequest(server.URL))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, result["body"])
	assert.Equal(t, float64(80), gotBody["score"])
	assert.Equal(t, "lead-1", gotHeaders.Get("X-Lead"))
	assert.Equal(t, "run-1:notify:webhook", gotHeaders.Get("Idempotency-Key"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
}

func TestWebhookDispatcher_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
		sentinel  error
	}{
		{"server error is retryable", http.StatusBadGateway, true, ErrWebhookServerError},
		{"rate limit is retryable", http.StatusTooManyRequests, true, ErrWebhookServerError},
		{"bad request is permanent", http.StatusBadRequest, false, ErrWebhookRejected},
		{"not found is permanent", http.StatusNotFound, false, ErrWebhookRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := NewWebhookDispatcher(nil, nil).Dispatch(context.Background(), webhookRequest(server.URL))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.retryable, protocol.IsRetryable(err))
		})
	}
}

func TestWebhookDispatcher_TimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	req := webhookRequest(server.URL)
	req.Params["timeout"] = "20ms"

	start := time.Now()
	_, err := NewWebhookDispatcher(nil, nil).Dispatch(context.Background(), req)

	require.Error(t, err)
	assert.True(t, protocol.IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWebhookDispatcher_InvalidTimeoutIsPermanent(t *testing.T) {
	req := webhookRequest("http://127.0.0.1:1")
	req.Params["timeout"] = "soon"

	_, err := NewWebhookDispatcher(nil, nil).Dispatch(context.Background(), req)
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)
	assert.False(t, protocol.IsRetryable(err))
}

func TestEventBusDispatcher(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "run-1", mock.MatchedBy(func(event events.ActionRequested) bool {
		return event.Kind == "assign_tag" && event.IdempotencyKey == "run-1:tag:assign_tag" && event.WorkflowID == "wf-1"
	})).Return(nil).Once()
	bus.On("Publish", mock.Anything, "run-1", mock.Anything).Return(errors.New("broker down")).Once()

	d := NewEventBusDispatcher(bus)
	req := protocol.ActionRequest{Kind: protocol.ActionAssignTag, RunID: "run-1", WorkflowID: "wf-1", NodeID: "tag"}

	result, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, true, result["queued"])

	_, err = d.Dispatch(context.Background(), req)
	require.Error(t, err)
	assert.True(t, protocol.IsRetryable(err))

	bus.AssertExpectations(t)
}

func TestRouter(t *testing.T) {
	emails := NewRecorder()
	fallback := NewRecorder()
	ctx := context.Background()

	router := NewRouter(fallback).Route(protocol.ActionSendEmail, emails)

	_, err := router.Dispatch(ctx, protocol.ActionRequest{Kind: protocol.ActionSendEmail})
	require.NoError(t, err)
	_, err = router.Dispatch(ctx, protocol.ActionRequest{Kind: protocol.ActionAssignTag})
	require.NoError(t, err)

	assert.Equal(t, []protocol.ActionKind{protocol.ActionSendEmail}, emails.Kinds())
	assert.Equal(t, []protocol.ActionKind{protocol.ActionAssignTag}, fallback.Kinds())

	_, err = NewRouter(nil).Dispatch(ctx, protocol.ActionRequest{Kind: protocol.ActionWebhook})
	require.ErrorIs(t, err, ErrNoRoute)
	assert.False(t, protocol.IsRetryable(err))
}

func TestRecorder_FailNext(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	boom := protocol.Retryable(errors.New("smtp unavailable"))

	r.FailNext(protocol.ActionSendEmail, boom)

	_, err := r.Dispatch(ctx, protocol.ActionRequest{Kind: protocol.ActionSendEmail})
	require.ErrorIs(t, err, boom)

	_, err = r.Dispatch(ctx, protocol.ActionRequest{Kind: protocol.ActionSendEmail})
	require.NoError(t, err)
	assert.Len(t, r.Requests(), 1)
}
