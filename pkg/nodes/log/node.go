// Package log provides a node that writes a rendered message to the structured log.
package log

import (
	"context"
	"log/slog"
	"strings"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/template"
)

type Node struct {
	base.Router

	logger *slog.Logger
}

func (n *Node) Execute(ctx context.Context, node protocol.Node, execCtx *models.ExecutionContext) (protocol.Result, error) {
	message, err := base.RequiredString(node.Config, "message")
	if err != nil {
		return protocol.Result{}, err
	}

	rendered, err := template.RenderStringWithContext(message, execCtx)
	if err != nil {
		return protocol.Result{}, base.InvalidConfig("message: %v", err)
	}

	level := slog.LevelInfo
	if raw, ok := base.String(node.Config, "level"); ok {
		if err := level.UnmarshalText([]byte(strings.ToUpper(raw))); err != nil {
			return protocol.Result{}, base.InvalidConfig("level: %v", err)
		}
	}

	n.logger.Log(ctx, level, rendered,
		"execution_id", execCtx.RunID,
		"workflow_id", execCtx.WorkflowID,
		"node_id", node.ID)

	return protocol.Result{Output: map[string]any{"message": rendered, "level": level.String()}}, nil
}
