package action

import (
	"context"
	"errors"
	"testing"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	requests []protocol.ActionRequest
	err      error
	response map[string]any
}

func (r *recorder) Dispatch(_ context.Context, req protocol.ActionRequest) (map[string]any, error) {
	r.requests = append(r.requests, req)

	return r.response, r.err
}

func executor(t *testing.T, kindID protocol.ActionKind, dispatcher protocol.ActionDispatcher) protocol.NodeExecutor {
	t.Helper()

	for _, factory := range NewNodeFactories(dispatcher, nil) {
		if factory.ID() == string(kindID) {
			node, err := factory.Create(context.Background())
			require.NoError(t, err)

			return node
		}
	}

	t.Fatalf("no factory for %s", kindID)

	return nil
}

func leadContext() *models.ExecutionContext {
	return models.NewExecutionContext("run-1", "wf-1", nil, map[string]any{
		"lead_id": "lead-7",
		"lead":    map[string]any{"email": "ada@example.com", "name": "Ada"},
		"score":   10,
		"tags":    []any{"newsletter"},
	})
}

func spec(kindID protocol.ActionKind, config map[string]any) protocol.Node {
	return protocol.Node{ID: "n1", NodeSpec: models.NodeSpec{Type: string(kindID), Config: config}}
}

func TestSendEmail_RendersAndDispatches(t *testing.T) {
	rec := &recorder{response: map[string]any{"message_id": "m-1"}}
	node := executor(t, protocol.ActionSendEmail, rec)
	execCtx := leadContext()

	_, err := node.Execute(context.Background(), spec(protocol.ActionSendEmail, map[string]any{
		"to":      "{{ .vars.lead.email }}",
		"subject": "Hi {{ .vars.lead.name }}",
	}), execCtx)
	require.NoError(t, err)

	require.Len(t, rec.requests, 1)
	req := rec.requests[0]
	assert.Equal(t, protocol.ActionSendEmail, req.Kind)
	assert.Equal(t, "lead-7", req.EntityID)
	assert.Equal(t, "run-1:n1:send_email", req.IdempotencyKey())
	assert.Equal(t, "ada@example.com", req.Params["to"])
	assert.Equal(t, "Hi Ada", req.Params["subject"])

	results := execCtx.Get(ResultsVariable, nil).(map[string]any)
	assert.Equal(t, map[string]any{"message_id": "m-1"}, results["n1"])
}

func TestSendEmail_InvalidRecipientIsPermanent(t *testing.T) {
	rec := &recorder{}
	node := executor(t, protocol.ActionSendEmail, rec)

	_, err := node.Execute(context.Background(), spec(protocol.ActionSendEmail, map[string]any{"to": "not-an-address", "subject": "x"}), leadContext())
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)
	assert.False(t, protocol.IsRetryable(err))
	assert.Empty(t, rec.requests)
}

func TestWebhook_DefaultsAndValidation(t *testing.T) {
	rec := &recorder{}
	node := executor(t, protocol.ActionWebhook, rec)

	_, err := node.Execute(context.Background(), spec(protocol.ActionWebhook, map[string]any{
		"url":  "https://hooks.example.com/lead",
		"body": map[string]any{"id": "{{ .execution.entity_id }}"},
	}), leadContext())
	require.NoError(t, err)
	require.Len(t, rec.requests, 1)
	assert.Equal(t, "POST", rec.requests[0].Params["method"])
	assert.Equal(t, map[string]any{"id": "lead-7"}, rec.requests[0].Params["body"])

	_, err = node.Execute(context.Background(), spec(protocol.ActionWebhook, map[string]any{"url": "ftp://example.com"}), leadContext())
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)
}

func TestAssignTag_Deduplicates(t *testing.T) {
	node := executor(t, protocol.ActionAssignTag, nil)
	execCtx := leadContext()

	_, err := node.Execute(context.Background(), spec(protocol.ActionAssignTag, map[string]any{"tags": []any{"hot", "newsletter"}}), execCtx)
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), spec(protocol.ActionAssignTag, map[string]any{"tag": "hot"}), execCtx)
	require.NoError(t, err)

	assert.Equal(t, []any{"newsletter", "hot"}, execCtx.Get(TagsVariable, nil))
}

func TestAssignScore_Modes(t *testing.T) {
	node := executor(t, protocol.ActionAssignScore, nil)
	execCtx := leadContext()

	_, err := node.Execute(context.Background(), spec(protocol.ActionAssignScore, map[string]any{"score": 15}), execCtx)
	require.NoError(t, err)
	assert.Equal(t, 25.0, execCtx.Get(ScoreVariable, nil))

	_, err = node.Execute(context.Background(), spec(protocol.ActionAssignScore, map[string]any{"score": "5", "mode": "set"}), execCtx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, execCtx.Get(ScoreVariable, nil))

	_, err = node.Execute(context.Background(), spec(protocol.ActionAssignScore, map[string]any{"score": 1, "mode": "multiply"}), execCtx)
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)
}

func TestUpdateField_SetsVariable(t *testing.T) {
	node := executor(t, protocol.ActionUpdateField, nil)
	execCtx := leadContext()

	_, err := node.Execute(context.Background(), spec(protocol.ActionUpdateField, map[string]any{"field": "status", "value": "contacted"}), execCtx)
	require.NoError(t, err)
	assert.Equal(t, "contacted", execCtx.Get("status", nil))
}

func TestDispatchFailure_DoesNotCommit(t *testing.T) {
	rec := &recorder{err: protocol.Retryable(errors.New("crm unavailable"))}
	node := executor(t, protocol.ActionAssignScore, rec)
	execCtx := leadContext()

	_, err := node.Execute(context.Background(), spec(protocol.ActionAssignScore, map[string]any{"score": 15}), execCtx)
	require.Error(t, err)
	assert.True(t, protocol.IsRetryable(err))
	assert.Equal(t, 10, execCtx.Get(ScoreVariable, nil))
}
