package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/eventbus"
	"github.com/leadpilot/automation/pkg/events"
	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/otelhelper"
	"github.com/leadpilot/automation/pkg/persistence"
	"github.com/leadpilot/automation/pkg/queue"
	"github.com/leadpilot/automation/pkg/timer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxCancelAttempts = 5
	dueBatchSize      = 100
)

// Scheduler drives the run state machine. It persists the execution after every node visit;
// every write is optimistic, so a worker that loses a race stops without touching the run.
// A running run is leased to the worker that saved it; others leave it alone until the lease ends.
type Scheduler struct {
	executions persistence.ExecutionRepository
	walker     *Walker
	runs       queue.RunQueue
	timers     timer.DelayQueue
	events     eventbus.EventPublisher
	clock      clockwork.Clock
	config     Config
	retry      RetryPolicy
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures optional collaborators of the engine and the scheduler.
type Option func(*options)

type options struct {
	events eventbus.EventPublisher
	clock  clockwork.Clock
}

// WithEventPublisher publishes run and node lifecycle events.
func WithEventPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *options) {
		o.events = publisher
	}
}

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func NewScheduler(
	executions persistence.ExecutionRepository,
	walker *Walker,
	runs queue.RunQueue,
	timers timer.DelayQueue,
	config Config,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	config = config.withDefaults()
	o := buildOptions(opts)

	return &Scheduler{
		executions: executions,
		walker:     walker,
		runs:       runs,
		timers:     timers,
		events:     o.events,
		clock:      o.clock,
		config:     config,
		retry:      RetryPolicy{Base: config.BackoffBase, Max: config.BackoffMax},
		logger:     logger.With("module", "scheduler"),
		tracer:     otelhelper.Tracer(),
	}
}

// Start creates a pending run of def. In sync mode it advances the run until it suspends or
// ends and returns the stored record; in async mode it enqueues the run and returns at once.
func (s *Scheduler) Start(ctx context.Context, def *Definition, cmd models.ExecuteWorkflowCommand) (*models.WorkflowExecution, error) {
	execution := s.newExecution(def, cmd)

	err := s.executions.Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	s.logger.InfoContext(ctx, "execution started",
		"workflow_id", execution.WorkflowID,
		"execution_id", execution.ID,
		"user_id", execution.UserID,
		"mode", execution.Mode,
		"priority", execution.Priority)

	s.publish(ctx, execution, events.WorkflowExecutionStarted{
		BaseEvent:   s.baseEvent(events.WorkflowExecutionStartedEvent, execution),
		ExecutionID: execution.ID,
		UserID:      execution.UserID,
		EntryNodeID: execution.Definition.EntryNodeID,
		TriggerData: cmd.Payload,
		Mode:        string(execution.Mode),
		Priority:    string(execution.Priority),
	})

	if execution.Mode == models.ExecutionModeAsync {
		err = s.runs.Enqueue(ctx, execution.ID, execution.Priority)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to enqueue execution, leaving it to the due sweep",
				"execution_id", execution.ID,
				"recover_after", s.config.PendingRecoveryAfter,
				"error", err)
		}

		return execution, nil
	}

	for {
		yielded, err := s.tick(ctx, execution, false)
		if err != nil {
			return nil, err
		}

		if !yielded {
			break
		}
	}

	stored, err := s.executions.Find(ctx, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload execution %s: %w", execution.ID, err)
	}

	return stored, nil
}

func (s *Scheduler) newExecution(def *Definition, cmd models.ExecuteWorkflowCommand) *models.WorkflowExecution {
	id := uuid.New().String()
	now := s.clock.Now().UTC()

	maxRetries := s.config.MaxRetries
	if cmd.MaxRetries != nil {
		maxRetries = *cmd.MaxRetries
	}

	timeout := s.config.Timeout
	if cmd.Timeout != nil {
		timeout = *cmd.Timeout
	}

	var deadline *time.Time

	if timeout > 0 {
		at := now.Add(timeout)
		deadline = &at
	}

	mode := cmd.ExecutionMode
	if mode == "" {
		mode = s.config.Mode
	}

	priority := cmd.Priority
	if priority == "" {
		priority = s.config.Priority
	}

	snapshot := def.Snapshot()

	return &models.WorkflowExecution{
		ID:            id,
		WorkflowID:    def.ID,
		UserID:        cmd.UserID,
		Definition:    snapshot,
		Status:        models.ExecutionStatusPending,
		CurrentNodeID: snapshot.EntryNodeID,
		Context:       models.NewExecutionContext(id, def.ID, def.Variables, cmd.Payload),
		MaxRetries:    maxRetries,
		Mode:          mode,
		Priority:      priority,
		Deadline:      deadline,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Resume advances runID by one tick. Terminal runs are left untouched and ErrRunAlreadyTerminal
// is returned. A run another worker holds a live lease on is left to that worker.
func (s *Scheduler) Resume(ctx context.Context, runID string) error {
	execution, err := s.executions.Find(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", runID, err)
	}

	if execution.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunAlreadyTerminal, runID, execution.Status)
	}

	_, err = s.tick(ctx, execution, true)

	return err
}

// HandleWakeup resumes runID for the delay queue and the run queue. Runs that ended or
// disappeared in the meantime are skipped.
func (s *Scheduler) HandleWakeup(ctx context.Context, runID string) error {
	err := s.Resume(ctx, runID)
	if errors.Is(err, ErrRunAlreadyTerminal) || persistence.IsExecutionNotFound(err) {
		s.logger.DebugContext(ctx, "skipping wake-up", "execution_id", runID, "reason", err)

		return nil
	}

	return err
}

// ResumeDue resumes suspended runs whose resume time has passed, running runs whose lease
// ended and pending runs that waited longer than PendingRecoveryAfter. It recovers runs whose
// wake-up or queue message was lost and runs abandoned by a crashed worker.
func (s *Scheduler) ResumeDue(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()

	due, err := s.executions.FindDue(ctx, persistence.DueQuery{
		Now:           now,
		PendingBefore: now.Add(-s.config.PendingRecoveryAfter),
		Limit:         dueBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find due executions: %w", err)
	}

	var (
		resumed int
		errs    []error
	)

	for _, execution := range due {
		err := s.HandleWakeup(ctx, execution.ID)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		resumed++
	}

	if resumed > 0 {
		s.logger.InfoContext(ctx, "resumed due executions", "count", resumed)
	}

	return resumed, errors.Join(errs...)
}

// Cancel marks runID cancelled. A step already in flight finishes, but its result is discarded.
func (s *Scheduler) Cancel(ctx context.Context, runID string) error {
	for range maxCancelAttempts {
		execution, err := s.executions.Find(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load execution %s: %w", runID, err)
		}

		if execution.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrRunAlreadyTerminal, runID, execution.Status)
		}

		now := s.clock.Now().UTC()
		execution.Status = models.ExecutionStatusCancelled
		execution.ResumeAt = nil
		execution.CompletedAt = &now
		execution.UpdatedAt = now
		execution.ClaimedBy = ""
		execution.LeaseUntil = nil

		err = s.executions.Update(ctx, execution)
		if persistence.IsVersionConflict(err) {
			continue
		}

		if err != nil {
			return fmt.Errorf("failed to cancel execution %s: %w", runID, err)
		}

		s.logger.InfoContext(ctx, "execution cancelled", "execution_id", runID, "node_id", execution.CurrentNodeID)

		s.publish(ctx, execution, events.WorkflowExecutionCancelled{
			BaseEvent:     s.baseEvent(events.WorkflowExecutionCancelledEvent, execution),
			ExecutionID:   execution.ID,
			NodeID:        execution.CurrentNodeID,
			NodesExecuted: len(execution.Context.History),
		})

		return nil
	}

	return fmt.Errorf("failed to cancel execution %s: %w", runID, persistence.ErrVersionConflict)
}

// tick claims the run and steps it until a boundary or the tick budget is spent. It reports
// whether the run yielded with work left; with requeue the run is then put back on the queue.
// A running run whose lease is still held elsewhere is left alone.
func (s *Scheduler) tick(ctx context.Context, execution *models.WorkflowExecution, requeue bool) (bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "workflow.tick",
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.Int(otelhelper.AttemptKey, execution.Attempt),
	)
	defer span.End()

	now := s.clock.Now().UTC()

	if execution.Status == models.ExecutionStatusRunning {
		if !execution.LeaseExpired(now) {
			s.logger.DebugContext(ctx, "execution owned by another worker",
				"execution_id", execution.ID,
				"claimed_by", execution.ClaimedBy,
				"lease_until", execution.LeaseUntil)

			return false, nil
		}

		s.logger.WarnContext(ctx, "taking over execution with expired lease",
			"execution_id", execution.ID,
			"claimed_by", execution.ClaimedBy,
			"lease_until", execution.LeaseUntil,
			"node_id", execution.CurrentNodeID)
	}

	if s.expired(execution, now) {
		return false, s.fail(ctx, execution, execution.CurrentNodeID, ErrRunTimeout)
	}

	if execution.Status == models.ExecutionStatusSuspended && execution.ResumeAt != nil && execution.ResumeAt.After(now) {
		s.logger.DebugContext(ctx, "woke up early, rescheduling", "execution_id", execution.ID, "resume_at", execution.ResumeAt)

		return false, s.timers.Schedule(ctx, timer.Wakeup{RunID: execution.ID, At: *execution.ResumeAt})
	}

	previous := execution.Status
	pausedFor := now.Sub(execution.UpdatedAt)

	execution.Status = models.ExecutionStatusRunning
	execution.ResumeAt = nil

	saved, err := s.save(ctx, execution)
	if !saved || err != nil {
		return false, err
	}

	if previous == models.ExecutionStatusSuspended {
		s.publish(ctx, execution, events.WorkflowExecutionResumed{
			BaseEvent:       s.baseEvent(events.WorkflowExecutionResumedEvent, execution),
			ExecutionID:     execution.ID,
			NodeID:          execution.CurrentNodeID,
			PauseDurationMs: pausedFor.Milliseconds(),
		})
	}

	if execution.CurrentNodeID == "" {
		return false, s.complete(ctx, execution)
	}

	started := s.clock.Now()

	for steps := 0; ; steps++ {
		if steps >= s.config.MaxStepsPerTick || s.clock.Since(started) >= s.config.MaxTickDuration {
			span.SetAttributes(attribute.Int(otelhelper.StepsKey, steps))

			return s.yield(ctx, execution, requeue)
		}

		if s.expired(execution, s.clock.Now().UTC()) {
			return false, s.fail(ctx, execution, execution.CurrentNodeID, ErrRunTimeout)
		}

		stop, err := s.apply(ctx, execution, s.walker.Step(ctx, execution))
		if stop || err != nil {
			span.SetAttributes(attribute.Int(otelhelper.StepsKey, steps+1))

			if err != nil {
				otelhelper.SetError(span, err)
			}

			return false, err
		}
	}
}

// yield hands the run back as pending so any worker may take the next tick.
func (s *Scheduler) yield(ctx context.Context, execution *models.WorkflowExecution, requeue bool) (bool, error) {
	execution.Status = models.ExecutionStatusPending

	saved, err := s.save(ctx, execution)
	if !saved || err != nil {
		return false, err
	}

	if !requeue {
		return true, nil
	}

	err = s.runs.Enqueue(ctx, execution.ID, execution.Priority)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to requeue execution, leaving it to the due sweep",
			"execution_id", execution.ID,
			"error", err)
	}

	return true, nil
}

// apply records the outcome of one step and reports whether the tick must stop.
func (s *Scheduler) apply(ctx context.Context, execution *models.WorkflowExecution, result StepResult) (bool, error) {
	if result.Err != nil {
		return true, s.handleNodeError(ctx, execution, result)
	}

	execution.Attempt = 0
	execution.Error = nil
	execution.CurrentNodeID = result.NextNodeID

	finished := s.nodeFinished(execution, result)

	switch {
	case result.SuspendUntil != nil:
		return true, s.suspend(ctx, execution, *result.SuspendUntil, events.SuspendReasonDelay, finished)
	case result.Done:
		return true, s.complete(ctx, execution, finished)
	}

	saved, err := s.save(ctx, execution)
	if !saved || err != nil {
		return true, err
	}

	s.publish(ctx, execution, finished)

	return false, nil
}

func (s *Scheduler) handleNodeError(ctx context.Context, execution *models.WorkflowExecution, result StepResult) error {
	failed := events.NodeExecutionFailed{
		BaseEvent:   s.baseEvent(events.NodeExecutionFailedEvent, execution),
		ExecutionID: execution.ID,
		NodeID:      result.NodeID,
		NodeType:    result.NodeType,
		Error:       result.Err.Error(),
		Retryable:   result.Retryable(),
		Duration:    result.Duration,
	}

	if result.Retryable() && execution.Attempt < execution.MaxRetries {
		now := s.clock.Now().UTC()
		delay := s.retry.Delay(execution.Attempt)

		execution.Attempt++
		execution.Error = &models.RunError{
			Kind:       models.ErrorKindNodeFailed,
			NodeID:     result.NodeID,
			Message:    result.Err.Error(),
			Retryable:  true,
			OccurredAt: now,
		}

		s.logger.WarnContext(ctx, "node failed, retrying",
			"execution_id", execution.ID,
			"node_id", result.NodeID,
			"attempt", execution.Attempt,
			"max_retries", execution.MaxRetries,
			"backoff", delay,
			"error", result.Err)

		return s.suspend(ctx, execution, now.Add(delay), events.SuspendReasonRetry, failed)
	}

	err := result.Err
	if result.Retryable() {
		err = fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, execution.Attempt, result.Err)
	}

	return s.fail(ctx, execution, result.NodeID, err, failed)
}

func (s *Scheduler) suspend(
	ctx context.Context,
	execution *models.WorkflowExecution,
	at time.Time,
	reason events.SuspendReason,
	evts ...eventbus.Event,
) error {
	execution.Status = models.ExecutionStatusSuspended
	execution.ResumeAt = &at

	saved, err := s.save(ctx, execution)
	if !saved || err != nil {
		return err
	}

	s.publish(ctx, execution, evts...)
	s.publish(ctx, execution, events.WorkflowExecutionSuspended{
		BaseEvent:   s.baseEvent(events.WorkflowExecutionSuspendedEvent, execution),
		ExecutionID: execution.ID,
		NodeID:      execution.CurrentNodeID,
		ResumeAt:    at,
		Reason:      reason,
		Attempt:     execution.Attempt,
	})

	s.logger.InfoContext(ctx, "execution suspended",
		"execution_id", execution.ID,
		"node_id", execution.CurrentNodeID,
		"resume_at", at,
		"reason", reason)

	err = s.timers.Schedule(ctx, timer.Wakeup{RunID: execution.ID, At: at})
	if err != nil {
		return fmt.Errorf("failed to schedule wake-up for execution %s: %w", execution.ID, err)
	}

	return nil
}

func (s *Scheduler) complete(ctx context.Context, execution *models.WorkflowExecution, evts ...eventbus.Event) error {
	now := s.clock.Now().UTC()

	execution.Status = models.ExecutionStatusCompleted
	execution.CurrentNodeID = ""
	execution.ResumeAt = nil
	execution.CompletedAt = &now

	saved, err := s.save(ctx, execution)
	if !saved || err != nil {
		return err
	}

	s.publish(ctx, execution, evts...)
	s.publish(ctx, execution, events.WorkflowExecutionCompleted{
		BaseEvent:     s.baseEvent(events.WorkflowExecutionCompletedEvent, execution),
		ExecutionID:   execution.ID,
		DurationMs:    now.Sub(execution.CreatedAt).Milliseconds(),
		NodesExecuted: len(execution.Context.History),
		FinalResults:  execution.Context.Variables,
	})

	s.logger.InfoContext(ctx, "execution completed",
		"execution_id", execution.ID,
		"nodes_executed", len(execution.Context.History))

	return nil
}

func (s *Scheduler) fail(ctx context.Context, execution *models.WorkflowExecution, nodeID string, cause error, evts ...eventbus.Event) error {
	now := s.clock.Now().UTC()

	execution.Status = models.ExecutionStatusFailed
	execution.ResumeAt = nil
	execution.CompletedAt = &now
	execution.Error = &models.RunError{
		Kind:       errorKind(cause),
		NodeID:     nodeID,
		Message:    cause.Error(),
		OccurredAt: now,
	}

	saved, err := s.save(ctx, execution)
	if !saved || err != nil {
		return err
	}

	s.publish(ctx, execution, evts...)
	s.publish(ctx, execution, events.WorkflowExecutionFailed{
		BaseEvent:   s.baseEvent(events.WorkflowExecutionFailedEvent, execution),
		ExecutionID: execution.ID,
		DurationMs:  now.Sub(execution.CreatedAt).Milliseconds(),
		Error: events.WorkflowError{
			NodeID:  nodeID,
			Message: cause.Error(),
			Code:    string(execution.Error.Kind),
		},
		NodesExecuted: len(execution.Context.History),
	})

	s.logger.WarnContext(ctx, "execution failed",
		"execution_id", execution.ID,
		"node_id", nodeID,
		"kind", execution.Error.Kind,
		"error", cause)

	return nil
}

// save stamps and persists the execution, renewing the lease while it runs. It reports false
// without error when another writer advanced the run first.
func (s *Scheduler) save(ctx context.Context, execution *models.WorkflowExecution) (bool, error) {
	now := s.clock.Now().UTC()
	execution.UpdatedAt = now

	if execution.Status == models.ExecutionStatusRunning {
		lease := now.Add(s.config.LeaseDuration)
		execution.ClaimedBy = s.config.WorkerID
		execution.LeaseUntil = &lease
	} else {
		execution.ClaimedBy = ""
		execution.LeaseUntil = nil
	}

	err := s.executions.Update(ctx, execution)
	if err == nil {
		return true, nil
	}

	if !persistence.IsVersionConflict(err) {
		return false, fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	current, findErr := s.executions.Find(ctx, execution.ID)

	switch {
	case findErr != nil:
		s.logger.WarnContext(ctx, "lost execution update and could not reload it",
			"execution_id", execution.ID,
			"error", findErr)
	case current.Status == models.ExecutionStatusCancelled:
		s.logger.InfoContext(ctx, "execution cancelled while in flight, discarding result",
			"execution_id", execution.ID,
			"node_id", execution.CurrentNodeID)
	default:
		s.logger.DebugContext(ctx, "execution advanced by another worker",
			"execution_id", execution.ID,
			"status", current.Status,
			"version", current.Version)
	}

	return false, nil
}

func (s *Scheduler) expired(execution *models.WorkflowExecution, now time.Time) bool {
	return execution.Deadline != nil && now.After(*execution.Deadline)
}

func (s *Scheduler) nodeFinished(execution *models.WorkflowExecution, result StepResult) events.NodeExecutionFinished {
	return events.NodeExecutionFinished{
		BaseEvent:   s.baseEvent(events.NodeExecutionFinishedEvent, execution),
		ExecutionID: execution.ID,
		NodeID:      result.NodeID,
		NodeType:    result.NodeType,
		Outcome:     string(result.Outcome),
		OutputData:  result.Output,
		Duration:    result.Duration,
	}
}

func (s *Scheduler) baseEvent(eventType events.EventType, execution *models.WorkflowExecution) events.BaseEvent {
	base := events.NewBaseEvent(eventType, execution.WorkflowID)
	base.WorkerID = s.config.WorkerID

	return base
}

func (s *Scheduler) publish(ctx context.Context, execution *models.WorkflowExecution, evts ...eventbus.Event) {
	if s.events == nil {
		return
	}

	for _, event := range evts {
		err := s.events.Publish(ctx, execution.ID, event)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to publish event",
				"execution_id", execution.ID,
				"event_type", event.GetType(),
				"error", err)
		}
	}
}
