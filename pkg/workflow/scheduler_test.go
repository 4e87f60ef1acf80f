package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leadpilot/automation/pkg/events"
	"github.com/leadpilot/automation/pkg/mocks"
	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/nodes/base"
	"github.com/leadpilot/automation/pkg/persistence"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func errPermanent(msg string) error {
	return protocol.Permanent(errors.New(msg))
}

func errRetryable(msg string) error {
	return protocol.Retryable(errors.New(msg))
}

// delayWorkflow waits the given seconds between start and tagging.
func delayWorkflow(seconds int) *models.WorkflowDefinition {
	return testutil.CreateTestWorkflow(
		testutil.WithNode("wait", models.NodeSpec{Type: "delay", Config: map[string]any{"seconds": seconds}}),
		testutil.WithEdges(
			models.Edge{From: "start", To: "wait"},
			models.Edge{From: "wait", To: "tag"},
			models.Edge{From: "tag", To: "end"},
		),
	)
}

func webhookWorkflow() *models.WorkflowDefinition {
	return testutil.CreateTestWorkflow(
		testutil.WithNode("notify", models.NodeSpec{
			Type:   "webhook",
			Config: map[string]any{"url": "https://hooks.example.com/leads"},
		}),
		testutil.WithEdges(
			models.Edge{From: "start", To: "notify"},
			models.Edge{From: "notify", To: "end"},
		),
	)
}

// hookNode runs a callback during Execute, then writes a marker variable.
type hookNode struct {
	base.Router

	hook func(ctx context.Context, execCtx *models.ExecutionContext)
}

func (n *hookNode) Execute(ctx context.Context, _ protocol.Node, execCtx *models.ExecutionContext) (protocol.Result, error) {
	n.hook(ctx, execCtx)
	execCtx.Set("hook_ran", true)

	return protocol.Result{}, nil
}

func TestScheduler_DelaySuspendsAndResumes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	workflow := f.create(t, delayWorkflow(30))

	execution := f.execute(t, workflow.ID, nil)

	require.Equal(t, models.ExecutionStatusSuspended, execution.Status)
	assert.Equal(t, "tag", execution.CurrentNodeID)
	assert.Equal(t, testStart.Add(30*time.Second), *execution.ResumeAt)
	assert.Equal(t, models.OutcomeSuspended, execution.Context.History[1].Outcome)
	assert.Equal(t, 1, f.timers.Len())
	assert.Empty(t, f.actions.Requests())

	// An early wake-up changes nothing and keeps the wake-up scheduled.
	require.NoError(t, f.engine.Resume(ctx, execution.ID))
	assert.Equal(t, execution.Version, f.reload(t, execution.ID).Version)
	assert.Equal(t, 1, f.timers.Len())

	f.clock.Advance(30 * time.Second)
	assert.Equal(t, 1, f.wake(t))

	resumed := f.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Nil(t, resumed.ResumeAt)
	assert.Equal(t, []string{"start", "wait", "tag", "end"}, resumed.Context.VisitedNodes())
	assert.Equal(t, []any{"new"}, resumed.Context.Variables["tags"])
}

func TestScheduler_RetryBackoffIsMonotonic(t *testing.T) {
	f := newFixture(t)
	workflow := f.create(t, webhookWorkflow())

	f.actions.FailNext(protocol.ActionWebhook,
		errRetryable("timeout"), errRetryable("timeout"), errRetryable("timeout"), errRetryable("timeout"))

	execution := f.execute(t, workflow.ID, nil)

	var delays []time.Duration

	for execution.Status == models.ExecutionStatusSuspended {
		require.NotNil(t, execution.Error)
		assert.True(t, execution.Error.Retryable)
		assert.Equal(t, "notify", execution.CurrentNodeID)

		delays = append(delays, execution.ResumeAt.Sub(f.clock.Now()))

		f.clock.Advance(execution.ResumeAt.Sub(f.clock.Now()))
		require.Equal(t, 1, f.wake(t))

		execution = f.reload(t, execution.ID)
	}

	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, delays)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ErrorKindRetriesExhausted, execution.Error.Kind)
	assert.Equal(t, "notify", execution.Error.NodeID)
	assert.Equal(t, 3, execution.Attempt)
	assert.Empty(t, f.actions.Requests())
}

func TestScheduler_RetrySucceedsAfterTransientFailure(t *testing.T) {
	f := newFixture(t)
	workflow := f.create(t, webhookWorkflow())

	f.actions.FailNext(protocol.ActionWebhook, errRetryable("502"))

	execution := f.execute(t, workflow.ID, nil)
	require.Equal(t, models.ExecutionStatusSuspended, execution.Status)

	f.clock.Advance(5 * time.Second)
	f.wake(t)

	execution = f.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Zero(t, execution.Attempt)
	assert.Nil(t, execution.Error)
	assert.Len(t, f.actions.Requests(), 1)
}

func TestScheduler_PermanentErrorFailsImmediately(t *testing.T) {
	f := newFixture(t)
	workflow := f.create(t, webhookWorkflow())

	f.actions.FailNext(protocol.ActionWebhook, errPermanent("410 gone"))

	execution := f.execute(t, workflow.ID, map[string]any{"score": 12})

	require.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ErrorKindNodeFailed, execution.Error.Kind)
	assert.Equal(t, "notify", execution.Error.NodeID)
	assert.Contains(t, execution.Error.Message, "410 gone")
	assert.Equal(t, 12.0, execution.Context.Variables["score"])
	assert.Equal(t, 0, f.timers.Len())
}

func TestScheduler_NoMatchingEdgeFails(t *testing.T) {
	f := newFixture(t)
	workflow := hotColdWorkflow()
	workflow.Edges = workflow.Edges[:1]
	f.create(t, workflow)

	execution := f.execute(t, workflow.ID, map[string]any{"score": 10})

	require.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ErrorKindNoMatchingEdge, execution.Error.Kind)
	assert.Equal(t, "n1", execution.Error.NodeID)
}

func TestScheduler_CycleLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxVisits = 20 })

	workflow := testutil.CreateTestWorkflow(func(w *models.WorkflowDefinition) {
		w.Nodes = map[string]models.NodeSpec{
			"a": {Type: "start", IsEntry: true},
			"b": {Type: "start"},
		}
		w.Edges = []models.Edge{{From: "a", To: "b"}, {From: "b", To: "a"}}
	})
	f.create(t, workflow)

	execution := f.execute(t, workflow.ID, nil)

	require.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ErrorKindCycleLimitExceeded, execution.Error.Kind)
	assert.Equal(t, 20, execution.Context.Visits)
}

func TestScheduler_TerminalRunsAreImmutable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	workflow := f.create(t, hotColdWorkflow())

	execution := f.execute(t, workflow.ID, map[string]any{"score": 75})
	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	before := f.reload(t, execution.ID)

	require.ErrorIs(t, f.engine.Resume(ctx, execution.ID), ErrRunAlreadyTerminal)
	require.ErrorIs(t, f.engine.Cancel(ctx, execution.ID), ErrRunAlreadyTerminal)
	require.NoError(t, f.engine.Scheduler().HandleWakeup(ctx, execution.ID))

	assert.Equal(t, before, f.reload(t, execution.ID))
}

func TestScheduler_CancelSuspendedRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	workflow := f.create(t, delayWorkflow(60))

	execution := f.execute(t, workflow.ID, nil)
	require.NoError(t, f.engine.Cancel(ctx, execution.ID))

	f.clock.Advance(time.Minute)
	assert.Equal(t, 1, f.wake(t))

	cancelled := f.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.ResumeAt)
	assert.Empty(t, f.actions.Requests())
}

func TestScheduler_CancelDuringStepDiscardsResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.nodes.RegisterFunc("hook", func() protocol.NodeExecutor {
		return &hookNode{hook: func(ctx context.Context, execCtx *models.ExecutionContext) {
			require.NoError(t, f.engine.Cancel(ctx, execCtx.RunID))
		}}
	}))

	workflow := f.create(t, testutil.CreateTestWorkflow(
		testutil.WithNode("hook", models.NodeSpec{Type: "hook"}),
		testutil.WithEdges(
			models.Edge{From: "start", To: "hook"},
			models.Edge{From: "hook", To: "tag"},
		),
	))

	execution := f.execute(t, workflow.ID, nil)

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.NotContains(t, execution.Context.Variables, "hook_ran")
	assert.Equal(t, "hook", execution.CurrentNodeID)
	assert.Empty(t, f.actions.Requests())
	require.ErrorIs(t, f.engine.Resume(ctx, execution.ID), ErrRunAlreadyTerminal)
}

func TestScheduler_TimeoutFailsRun(t *testing.T) {
	f := newFixture(t)
	workflow := f.create(t, delayWorkflow(30))

	timeout := 10 * time.Second

	execution, err := f.engine.Execute(context.Background(), models.ExecuteWorkflowCommand{
		WorkflowID: workflow.ID,
		UserID:     "user-1",
		Timeout:    &timeout,
	})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusSuspended, execution.Status)

	f.clock.Advance(30 * time.Second)
	f.wake(t)

	execution = f.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ErrorKindRunTimeout, execution.Error.Kind)
	assert.Empty(t, f.actions.Requests())
}

func TestScheduler_TickBudgetYieldsToQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) {
		c.Mode = models.ExecutionModeAsync
		c.MaxStepsPerTick = 2
	})

	workflow := testutil.CreateTestWorkflow(func(w *models.WorkflowDefinition) {
		w.Nodes = map[string]models.NodeSpec{
			"start": {Type: "start", IsEntry: true},
			"p1":    {Type: "start"},
			"p2":    {Type: "start"},
			"p3":    {Type: "start"},
			"end":   {Type: "end"},
		}
		w.Edges = []models.Edge{
			{From: "start", To: "p1"},
			{From: "p1", To: "p2"},
			{From: "p2", To: "p3"},
			{From: "p3", To: "end"},
		}
	})
	f.create(t, workflow)

	execution := f.execute(t, workflow.ID, nil)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, 1, f.runs.Len())

	handled, err := f.runs.DrainTo(ctx, f.engine.Scheduler().HandleWakeup, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, handled)

	execution = f.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"start", "p1", "p2", "p3", "end"}, execution.Context.VisitedNodes())
}

func TestScheduler_ResumeDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	workflow := f.create(t, delayWorkflow(30))

	first := f.execute(t, workflow.ID, nil)
	second := f.execute(t, workflow.ID, nil)

	// Lose the in-memory wake-ups, as a restart would.
	f.clock.Advance(time.Minute)
	f.timers.Due()

	resumed, err := f.engine.Scheduler().ResumeDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed)

	assert.Equal(t, models.ExecutionStatusCompleted, f.reload(t, first.ID).Status)
	assert.Equal(t, models.ExecutionStatusCompleted, f.reload(t, second.ID).Status)

	resumed, err = f.engine.Scheduler().ResumeDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)
}

// racingExecutions holds the first two Find calls until both arrived, so two workers
// read the same version of a run.
type racingExecutions struct {
	persistence.ExecutionRepository

	arrivals atomic.Int32
	ready    chan struct{}
}

func (r *racingExecutions) Find(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := r.ExecutionRepository.Find(ctx, id)

	n := r.arrivals.Add(1)
	if n == 2 {
		close(r.ready)
	}

	if n <= 2 {
		<-r.ready
	}

	return execution, err
}

func TestScheduler_ConcurrentResumeAdvancesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	workflow := f.create(t, delayWorkflow(30))

	execution := f.execute(t, workflow.ID, nil)
	require.Equal(t, models.ExecutionStatusSuspended, execution.Status)

	f.clock.Advance(30 * time.Second)

	racing := &racingExecutions{ExecutionRepository: f.store.ExecutionRepository(), ready: make(chan struct{})}
	walker := NewWalker(f.nodes, f.clock, f.config.MaxVisits, f.logger)
	scheduler := NewScheduler(racing, walker, f.runs, f.timers, f.config, f.logger, WithClock(f.clock))

	var wg sync.WaitGroup

	errs := make([]error, 2)

	for i := range errs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			errs[i] = scheduler.Resume(ctx, execution.ID)
		}()
	}

	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])

	final := f.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, []string{"start", "wait", "tag", "end"}, final.Context.VisitedNodes())
	assert.Len(t, f.actions.Requests(), 1)
}

func TestScheduler_PublishesLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	workflow := f.create(t, delayWorkflow(30))

	bus := &mocks.MockEventBus{}

	var (
		mu   sync.Mutex
		seen []events.EventType
	)

	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()

		seen = append(seen, args.Get(2).(interface{ GetType() events.EventType }).GetType())
	}).Return(nil)

	walker := NewWalker(f.nodes, f.clock, f.config.MaxVisits, f.logger)
	scheduler := NewScheduler(f.store.ExecutionRepository(), walker, f.runs, f.timers, f.config, f.logger,
		WithClock(f.clock), WithEventPublisher(bus))

	def, err := f.engine.Validate(workflow)
	require.NoError(t, err)

	execution, err := scheduler.Start(context.Background(), def, models.ExecuteWorkflowCommand{WorkflowID: workflow.ID, UserID: "user-1"})
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	require.NoError(t, scheduler.HandleWakeup(context.Background(), execution.ID))

	assert.Equal(t, []events.EventType{
		events.WorkflowExecutionStartedEvent,
		events.NodeExecutionFinishedEvent,
		events.NodeExecutionFinishedEvent,
		events.WorkflowExecutionSuspendedEvent,
		events.WorkflowExecutionResumedEvent,
		events.NodeExecutionFinishedEvent,
		events.NodeExecutionFinishedEvent,
		events.WorkflowExecutionCompletedEvent,
	}, seen)

	bus.AssertCalled(t, "Publish", mock.Anything, execution.ID, mock.Anything)
}

func TestScheduler_ResumeDuringStepRunsNodeOnce(t *testing.T) {
	f := newFixture(t)

	var (
		executions atomic.Int32
		resumeErr  error
	)

	require.NoError(t, f.nodes.RegisterFunc("hook", func() protocol.NodeExecutor {
		return &hookNode{hook: func(ctx context.Context, execCtx *models.ExecutionContext) {
			if executions.Add(1) == 1 {
				resumeErr = f.engine.Resume(ctx, execCtx.RunID)
			}
		}}
	}))

	workflow := f.create(t, testutil.CreateTestWorkflow(
		testutil.WithNode("hook", models.NodeSpec{Type: "hook"}),
		testutil.WithEdges(
			models.Edge{From: "start", To: "hook"},
			models.Edge{From: "hook", To: "tag"},
			models.Edge{From: "tag", To: "end"},
		),
	))

	execution := f.execute(t, workflow.ID, nil)

	require.NoError(t, resumeErr)
	assert.Equal(t, int32(1), executions.Load())
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"start", "hook", "tag", "end"}, execution.Context.VisitedNodes())
	assert.Len(t, f.actions.Requests(), 1)
	assert.Empty(t, execution.ClaimedBy)
	assert.Nil(t, execution.LeaseUntil)
}

func TestScheduler_RunningRunIsLeased(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.WorkerID = "worker-a" })

	var seen *models.WorkflowExecution

	require.NoError(t, f.nodes.RegisterFunc("hook", func() protocol.NodeExecutor {
		return &hookNode{hook: func(ctx context.Context, execCtx *models.ExecutionContext) {
			stored, err := f.engine.Execution(ctx, execCtx.RunID)
			require.NoError(t, err)

			seen = stored
		}}
	}))

	workflow := f.create(t, testutil.CreateTestWorkflow(
		testutil.WithNode("hook", models.NodeSpec{Type: "hook"}),
		testutil.WithEdges(
			models.Edge{From: "start", To: "hook"},
			models.Edge{From: "hook", To: "end"},
		),
	))

	execution := f.execute(t, workflow.ID, nil)

	require.NotNil(t, seen)
	assert.Equal(t, models.ExecutionStatusRunning, seen.Status)
	assert.Equal(t, "worker-a", seen.ClaimedBy)
	require.NotNil(t, seen.LeaseUntil)
	assert.True(t, seen.LeaseUntil.Equal(testStart.Add(f.config.LeaseDuration)))

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Empty(t, execution.ClaimedBy)
	assert.Nil(t, execution.LeaseUntil)
}

func TestScheduler_ResumeDueTakesOverExpiredLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	workflow := f.create(t, testutil.CreateTestWorkflow())

	abandoned := testutil.CreateTestExecution(workflow,
		testutil.WithCreatedAt(testStart),
		testutil.WithUpdatedAt(testStart),
		testutil.WithLease("crashed-worker", testStart.Add(time.Minute)),
	)
	require.NoError(t, f.store.ExecutionRepository().Create(ctx, abandoned))

	before := f.reload(t, abandoned.ID)
	require.NoError(t, f.engine.Resume(ctx, abandoned.ID))

	held := f.reload(t, abandoned.ID)
	assert.Equal(t, models.ExecutionStatusRunning, held.Status)
	assert.Equal(t, before.Version, held.Version)

	resumed, err := f.engine.Scheduler().ResumeDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)

	f.clock.Advance(2 * time.Minute)

	resumed, err = f.engine.Scheduler().ResumeDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	final := f.reload(t, abandoned.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, []string{"start", "tag", "end"}, final.Context.VisitedNodes())
	assert.Empty(t, final.ClaimedBy)
}

// unavailableQueue rejects every run, like a broker that is down.
type unavailableQueue struct {
	attempts atomic.Int32
}

func (q *unavailableQueue) Enqueue(context.Context, string, models.Priority) error {
	q.attempts.Add(1)

	return errors.New("broker unavailable")
}

func TestScheduler_ResumeDueRecoversUnqueuedRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	config := f.config
	config.Mode = models.ExecutionModeAsync

	runs := &unavailableQueue{}
	engine := NewEngine(f.store, f.nodes, runs, f.timers, config, f.logger, WithClock(f.clock))

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, engine.CreateWorkflow(ctx, workflow))

	execution, err := engine.Execute(ctx, models.ExecuteWorkflowCommand{WorkflowID: workflow.ID, UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, int32(1), runs.attempts.Load())

	resumed, err := engine.Scheduler().ResumeDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)

	f.clock.Advance(config.PendingRecoveryAfter + time.Second)

	resumed, err = engine.Scheduler().ResumeDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	final, err := engine.Execution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Len(t, f.actions.Requests(), 1)
}

func TestScheduler_TimestampsFollowClock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	workflow := f.create(t, delayWorkflow(90))

	bus := &mocks.MockEventBus{}

	var resumedEvents []events.WorkflowExecutionResumed

	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if resumed, ok := args.Get(2).(events.WorkflowExecutionResumed); ok {
			resumedEvents = append(resumedEvents, resumed)
		}
	}).Return(nil)

	walker := NewWalker(f.nodes, f.clock, f.config.MaxVisits, f.logger)
	scheduler := NewScheduler(f.store.ExecutionRepository(), walker, f.runs, f.timers, f.config, f.logger,
		WithClock(f.clock), WithEventPublisher(bus))

	def, err := f.engine.Validate(workflow)
	require.NoError(t, err)

	execution, err := scheduler.Start(ctx, def, models.ExecuteWorkflowCommand{WorkflowID: workflow.ID, UserID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusSuspended, execution.Status)
	assert.True(t, execution.CreatedAt.Equal(testStart))
	assert.True(t, execution.UpdatedAt.Equal(testStart))

	f.clock.Advance(90 * time.Second)
	require.NoError(t, scheduler.HandleWakeup(ctx, execution.ID))

	require.Len(t, resumedEvents, 1)
	assert.Equal(t, int64(90000), resumedEvents[0].PauseDurationMs)

	final := f.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.True(t, final.UpdatedAt.Equal(testStart.Add(90*time.Second)))
}
