package log

import (
	"log/slog"

	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
)

// NewLogNodeFactory describes the log node; a nil logger means slog.Default.
func NewLogNodeFactory(logger *slog.Logger) protocol.NodeFactory {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "log_node")

	return &base.Descriptor{
		Type:    "log",
		Title:   "Log",
		Summary: "Writes a message to the engine log",
		Config: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":     "string",
					"examples": []string{"lead {{ .execution.entity_id }} reached the nurture branch"},
				},
				"level": map[string]any{
					"type": "string",
					"enum": []string{"debug", "info", "warn", "error"},
				},
			},
			"required": []string{"message"},
		},
		New: func() protocol.NodeExecutor { return &Node{logger: logger} },
	}
}
