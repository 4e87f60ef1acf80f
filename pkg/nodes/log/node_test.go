package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNode_WritesRenderedMessage(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	node, err := NewLogNodeFactory(logger).Create(context.Background())
	require.NoError(t, err)

	execCtx := models.NewExecutionContext("run-9", "wf", nil, map[string]any{"lead_id": "lead-1"})

	result, err := node.Execute(context.Background(), protocol.Node{ID: "note", NodeSpec: models.NodeSpec{Config: map[string]any{
		"message": "processing {{ .execution.entity_id }}",
		"level":   "warn",
	}}}, execCtx)
	require.NoError(t, err)

	assert.Equal(t, "processing lead-1", result.Output["message"])
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "processing lead-1")
	assert.Contains(t, buf.String(), "execution_id=run-9")
}

func TestLogNode_InvalidLevel(t *testing.T) {
	node, err := NewLogNodeFactory(nil).Create(context.Background())
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), protocol.Node{ID: "note", NodeSpec: models.NodeSpec{Config: map[string]any{
		"message": "x",
		"level":   "loud",
	}}}, models.NewExecutionContext("run", "wf", nil, nil))
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)
}
