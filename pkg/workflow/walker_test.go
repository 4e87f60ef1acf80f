package workflow

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/dispatch"
	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/registry"
	"github.com/leadpilot/automation/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingNode scribbles on the context and then fails with err.
type failingNode struct {
	base.Router

	err error
}

func (n *failingNode) Execute(_ context.Context, _ protocol.Node, execCtx *models.ExecutionContext) (protocol.Result, error) {
	execCtx.Set("partial", "written before failure")
	execCtx.Set("score", 0)

	return protocol.Result{}, n.err
}

func newTestWalker(t *testing.T, maxVisits int) (*Walker, *registry.Registry, *clockwork.FakeClock) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	clock := clockwork.NewFakeClockAt(testStart)
	nodes := registry.NewDefaultRegistry(logger, registry.Dependencies{
		Dispatcher: dispatch.NewRecorder(),
		Clock:      clock,
		Logger:     logger,
	})

	return NewWalker(nodes, clock, maxVisits, logger), nodes, clock
}

func runAt(workflow *models.WorkflowDefinition, nodeID string, variables map[string]any) *models.WorkflowExecution {
	return testutil.CreateTestExecution(workflow, func(e *models.WorkflowExecution) {
		e.CurrentNodeID = nodeID
		for key, value := range variables {
			e.Context.Set(key, value)
		}
	})
}

func TestWalker_StepIsDeterministic(t *testing.T) {
	walker, _, _ := newTestWalker(t, 0)

	first := runAt(hotColdWorkflow(), "n1", map[string]any{"score": 75})
	second := first.Clone()

	a := walker.Step(context.Background(), first)
	b := walker.Step(context.Background(), second)

	require.NoError(t, a.Err)
	assert.Equal(t, a, b)
	assert.Equal(t, first.Context, second.Context)
	assert.Equal(t, "n2", a.NextNodeID)
	assert.Equal(t, models.BranchOutcome("true"), a.Outcome)
}

func TestWalker_BranchIsChosenByCondition(t *testing.T) {
	walker, _, _ := newTestWalker(t, 0)

	tests := []struct {
		score int
		want  string
	}{
		{score: 75, want: "n2"},
		{score: 50, want: "n3"},
		{score: 10, want: "n3"},
	}

	for _, tt := range tests {
		result := walker.Step(context.Background(), runAt(hotColdWorkflow(), "n1", map[string]any{"score": tt.score}))

		require.NoError(t, result.Err)
		assert.Equal(t, tt.want, result.NextNodeID, "score %d", tt.score)
		assert.False(t, result.Done)
	}
}

func TestWalker_ExecutorErrorRestoresContext(t *testing.T) {
	walker, nodes, _ := newTestWalker(t, 0)
	cause := errRetryable("crm unavailable")

	require.NoError(t, nodes.RegisterFunc("flaky", func() protocol.NodeExecutor {
		return &failingNode{err: cause}
	}))

	workflow := testutil.CreateTestWorkflow(testutil.WithNode("tag", models.NodeSpec{Type: "flaky"}))
	execution := runAt(workflow, "tag", map[string]any{"score": 42})
	before := execution.Context.Snapshot()

	result := walker.Step(context.Background(), execution)

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, cause)
	assert.True(t, result.Retryable())
	assert.Equal(t, models.OutcomeError, result.Outcome)

	var nodeErr *protocol.NodeError
	require.ErrorAs(t, result.Err, &nodeErr)

	assert.Equal(t, before.Variables, execution.Context.Variables)
	assert.NotContains(t, execution.Context.Variables, "partial")
	assert.Equal(t, before.Visits+1, execution.Context.Visits)

	require.Len(t, execution.Context.History, len(before.History)+1)
	last := execution.Context.History[len(execution.Context.History)-1]
	assert.Equal(t, "tag", last.NodeID)
	assert.Equal(t, models.OutcomeError, last.Outcome)
	assert.Contains(t, last.Error, "crm unavailable")
}

func TestWalker_PermanentErrorsAreNotRetryable(t *testing.T) {
	walker, nodes, _ := newTestWalker(t, 0)

	require.NoError(t, nodes.RegisterFunc("broken", func() protocol.NodeExecutor {
		return &failingNode{err: errPermanent("bad request")}
	}))

	workflow := testutil.CreateTestWorkflow(testutil.WithNode("tag", models.NodeSpec{Type: "broken"}))

	result := walker.Step(context.Background(), runAt(workflow, "tag", nil))

	require.Error(t, result.Err)
	assert.False(t, result.Retryable())
}

func TestWalker_NoMatchingEdge(t *testing.T) {
	walker, _, _ := newTestWalker(t, 0)

	workflow := hotColdWorkflow()
	workflow.Edges = workflow.Edges[:1]
	execution := runAt(workflow, "n1", map[string]any{"score": 10})

	result := walker.Step(context.Background(), execution)

	require.ErrorIs(t, result.Err, ErrNoMatchingEdge)
	assert.False(t, result.Retryable())
	assert.Equal(t, models.OutcomeError, execution.Context.History[len(execution.Context.History)-1].Outcome)
}

func TestWalker_UnknownNodes(t *testing.T) {
	walker, _, _ := newTestWalker(t, 0)

	t.Run("missing node", func(t *testing.T) {
		result := walker.Step(context.Background(), runAt(testutil.CreateTestWorkflow(), "ghost", nil))

		require.ErrorIs(t, result.Err, ErrNodeNotFound)
		assert.False(t, result.Retryable())
	})

	t.Run("unregistered type", func(t *testing.T) {
		workflow := testutil.CreateTestWorkflow(testutil.WithNode("tag", models.NodeSpec{Type: "teleport"}))

		result := walker.Step(context.Background(), runAt(workflow, "tag", nil))

		require.ErrorIs(t, result.Err, ErrUnknownNodeType)
		assert.False(t, result.Retryable())
		assert.Equal(t, models.ErrorKindUnknownNodeType, errorKind(result.Err))
	})
}

func TestWalker_VisitCeiling(t *testing.T) {
	walker, _, _ := newTestWalker(t, 3)

	execution := runAt(testutil.CreateTestWorkflow(), "start", nil)
	execution.Context.Visits = 3

	result := walker.Step(context.Background(), execution)

	require.ErrorIs(t, result.Err, ErrCycleLimitExceeded)
	assert.False(t, result.Retryable())
	assert.Empty(t, execution.Context.History)
	assert.Equal(t, 3, execution.Context.Visits)
}

func TestWalker_DelayResolvesNextNode(t *testing.T) {
	walker, _, _ := newTestWalker(t, 0)

	execution := runAt(delayWorkflow(90), "wait", nil)

	result := walker.Step(context.Background(), execution)

	require.NoError(t, result.Err)
	require.NotNil(t, result.SuspendUntil)
	assert.Equal(t, testStart.Add(90*time.Second), *result.SuspendUntil)
	assert.Equal(t, "tag", result.NextNodeID)
	assert.Equal(t, models.OutcomeSuspended, result.Outcome)
	assert.False(t, result.Done)
}

func TestWalker_EndFinishesRun(t *testing.T) {
	walker, _, _ := newTestWalker(t, 0)

	result := walker.Step(context.Background(), runAt(testutil.CreateTestWorkflow(), "end", nil))

	require.NoError(t, result.Err)
	assert.True(t, result.Done)
	assert.Empty(t, result.NextNodeID)
}

// Every built-in node must return promptly; waiting is expressed as a suspension.
func TestWalker_BuiltInNodesDoNotBlock(t *testing.T) {
	walker, nodes, _ := newTestWalker(t, 0)

	samples := map[string]map[string]any{
		"start":         nil,
		"trigger":       nil,
		"end":           nil,
		"delay":         {"days": 3},
		"condition":     {"field": "score", "operator": ">", "value": 50},
		"switch":        {"value": "{{ .vars.status }}", "cases": []any{"new", "qualified"}},
		"set_variables": {"variables": map[string]any{"stage": "nurture"}},
		"log":           {"message": "visiting lead {{ .vars.lead_id }}"},
		"send_email":    {"to": "lead@example.com", "subject": "Welcome"},
		"webhook":       {"url": "https://hooks.example.com/leads"},
		"update_field":  {"field": "stage", "value": "mql"},
		"assign_tag":    {"tag": "hot"},
		"assign_score":  {"score": 10},
	}

	for _, nodeType := range nodes.NodeTypes() {
		t.Run(nodeType, func(t *testing.T) {
			config, ok := samples[nodeType]
			require.True(t, ok, "no sample config for %s", nodeType)
			require.NoError(t, nodes.ValidateConfig(nodeType, config))

			workflow := testutil.CreateTestWorkflow(testutil.WithNode("probe", models.NodeSpec{Type: nodeType, Config: config}))
			execution := runAt(workflow, "probe", map[string]any{"score": 80, "status": "new"})

			started := time.Now()
			result := walker.Step(context.Background(), execution)
			elapsed := time.Since(started)

			require.NoError(t, result.Err)
			assert.Less(t, elapsed, 50*time.Millisecond)
		})
	}
}

func TestWalker_InvalidRuntimeConfigIsPermanent(t *testing.T) {
	walker, _, _ := newTestWalker(t, 0)

	workflow := testutil.CreateTestWorkflow(testutil.WithNode("tag", models.NodeSpec{Type: "assign_tag", Config: map[string]any{}}))

	result := walker.Step(context.Background(), runAt(workflow, "tag", nil))

	require.Error(t, result.Err)
	assert.True(t, errors.Is(result.Err, protocol.ErrInvalidConfig))
	assert.False(t, result.Retryable())
}
