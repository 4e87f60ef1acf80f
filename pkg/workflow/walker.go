package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/otelhelper"
	"github.com/leadpilot/automation/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StepResult is the outcome of one node visit.
type StepResult struct {
	NodeID   string
	NodeType string

	// NextNodeID is the node to visit next. It is empty when the run is done.
	NextNodeID string
	Done       bool

	// SuspendUntil is set when the node asked to wait. NextNodeID is already resolved then.
	SuspendUntil *time.Time

	Outcome  models.HistoryOutcome
	Output   map[string]any
	Duration time.Duration

	// Err is a *protocol.NodeError, or a permanent run error when no node could be visited.
	Err error
}

// Retryable reports whether the step failed with an error worth retrying.
func (r StepResult) Retryable() bool {
	return r.Err != nil && protocol.IsRetryable(r.Err)
}

// Walker advances a run by exactly one node. It never retries and never persists.
type Walker struct {
	nodes     NodeResolver
	clock     clockwork.Clock
	maxVisits int
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewWalker(nodes NodeResolver, clock clockwork.Clock, maxVisits int, logger *slog.Logger) *Walker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if maxVisits <= 0 {
		maxVisits = DefaultConfig().MaxVisits
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Walker{
		nodes:     nodes,
		clock:     clock,
		maxVisits: maxVisits,
		logger:    logger.With("module", "walker"),
		tracer:    otelhelper.Tracer(),
	}
}

// Step visits execution.CurrentNodeID. The execution context is mutated in place; on an
// executor error it is rolled back to its state before the visit and only the failed
// history entry is kept.
func (w *Walker) Step(ctx context.Context, execution *models.WorkflowExecution) StepResult {
	nodeID := execution.CurrentNodeID

	spec, ok := execution.Definition.Nodes[nodeID]
	if !ok {
		return StepResult{
			NodeID:  nodeID,
			Outcome: models.OutcomeError,
			Err:     protocol.Permanent(fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)),
		}
	}

	node := protocol.Node{ID: nodeID, NodeSpec: spec}
	execCtx := execution.Context
	result := StepResult{NodeID: nodeID, NodeType: spec.Type}

	if execCtx.Visits >= w.maxVisits {
		result.Outcome = models.OutcomeError
		result.Err = protocol.NewNodeError(node, protocol.Permanent(
			fmt.Errorf("%w: %d visits", ErrCycleLimitExceeded, w.maxVisits)))

		return result
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.step",
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
		attribute.String(otelhelper.NodeTypeKey, spec.Type),
	)
	defer span.End()

	executor, err := w.nodes.Resolve(ctx, spec.Type)
	if err != nil {
		return w.fail(ctx, span, result, protocol.NewNodeError(node, protocol.Permanent(err)))
	}

	started := w.clock.Now().UTC()
	snapshot := execCtx.Snapshot()

	execCtx.Enter(nodeID, spec.Type, started)

	output, err := executor.Execute(ctx, node, execCtx)
	result.Duration = w.clock.Since(started)

	if err != nil {
		execCtx.Restore(snapshot)
		execCtx.Enter(nodeID, spec.Type, started)
		execCtx.Leave(models.OutcomeError, err, w.clock.Now().UTC())

		return w.fail(ctx, span, result, protocol.NewNodeError(node, err))
	}

	result.Output = output.Output

	next, err := executor.NextNodeID(node, execCtx, output, execution.Definition.Outgoing(nodeID))
	if err != nil {
		execCtx.Leave(models.OutcomeError, err, w.clock.Now().UTC())

		if !errors.Is(err, ErrNoMatchingEdge) {
			err = fmt.Errorf("failed to resolve next node: %w", err)
		}

		return w.fail(ctx, span, result, protocol.NewNodeError(node, protocol.Permanent(err)))
	}

	result.NextNodeID = next
	result.Done = next == ""

	switch {
	case output.Suspended():
		at := output.SuspendUntil.UTC()
		result.SuspendUntil = &at
		result.Outcome = models.OutcomeSuspended
	case output.Branch != "":
		result.Outcome = models.BranchOutcome(output.Branch)
	default:
		result.Outcome = models.OutcomeSuccess
	}

	execCtx.Leave(result.Outcome, nil, w.clock.Now().UTC())
	span.SetAttributes(attribute.String(otelhelper.OutcomeKey, string(result.Outcome)))

	w.logger.DebugContext(ctx, "node visited",
		"execution_id", execution.ID,
		"node_id", nodeID,
		"node_type", spec.Type,
		"outcome", result.Outcome,
		"next_node_id", next)

	return result
}

func (w *Walker) fail(ctx context.Context, span trace.Span, result StepResult, err error) StepResult {
	result.Outcome = models.OutcomeError
	result.Err = err

	otelhelper.SetError(span, err, attribute.Bool("retryable", protocol.IsRetryable(err)))

	w.logger.DebugContext(ctx, "node visit failed",
		"node_id", result.NodeID,
		"node_type", result.NodeType,
		"retryable", protocol.IsRetryable(err),
		"error", err)

	return result
}
