package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/persistence"
	"github.com/leadpilot/automation/pkg/queue"
	"github.com/leadpilot/automation/pkg/timer"
)

// RuleFields is reported when a definition passed the graph rules but has invalid fields.
const RuleFields = "fields"

// ErrInvalidDefinition wraps field validation failures of a definition.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// allowedTransitions lists the workflow status changes UpdateStatus accepts.
var allowedTransitions = map[models.WorkflowStatus][]models.WorkflowStatus{
	models.WorkflowStatusDraft:    {models.WorkflowStatusActive, models.WorkflowStatusArchived},
	models.WorkflowStatusActive:   {models.WorkflowStatusPaused, models.WorkflowStatusDraft, models.WorkflowStatusArchived},
	models.WorkflowStatusPaused:   {models.WorkflowStatusActive, models.WorkflowStatusDraft, models.WorkflowStatusArchived},
	models.WorkflowStatusArchived: {},
}

// Engine is the entry point of the automation engine. It owns no state beyond its collaborators.
type Engine struct {
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	nodes      NodeResolver
	scheduler  *Scheduler
	matcher    *TriggerMatcher
	validate   *validator.Validate
	clock      clockwork.Clock
	config     Config
	logger     *slog.Logger
}

func NewEngine(
	p persistence.Persistence,
	nodes NodeResolver,
	runs queue.RunQueue,
	timers timer.DelayQueue,
	config Config,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	config = config.withDefaults()
	o := buildOptions(opts)

	walker := NewWalker(nodes, o.clock, config.MaxVisits, logger)

	return &Engine{
		workflows:  p.WorkflowRepository(),
		executions: p.ExecutionRepository(),
		nodes:      nodes,
		scheduler:  NewScheduler(p.ExecutionRepository(), walker, runs, timers, config, logger, opts...),
		matcher:    NewTriggerMatcher(logger),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		clock:      o.clock,
		config:     config,
		logger:     logger.With("module", "engine"),
	}
}

// Scheduler exposes the scheduler for workers that consume the run and delay queues.
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// Validate checks the graph rules first and then the definition fields.
func (e *Engine) Validate(def *models.WorkflowDefinition) (*Definition, error) {
	loaded, err := Load(def, e.nodes)
	if err != nil {
		return nil, err
	}

	err = e.validate.Struct(def)
	if err != nil {
		return nil, &ValidationError{Rule: RuleFields, Err: fmt.Errorf("%w: %v", ErrInvalidDefinition, err)}
	}

	return loaded, nil
}

// Execute starts a run of an active workflow. Validation errors are returned before any run exists.
func (e *Engine) Execute(ctx context.Context, cmd models.ExecuteWorkflowCommand) (*models.WorkflowExecution, error) {
	err := e.validate.Struct(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	workflow, err := e.workflows.Find(ctx, cmd.WorkflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkflowNotActive, workflow.ID, workflow.Status)
	}

	def, err := e.Validate(workflow)
	if err != nil {
		return nil, err
	}

	if e.config.MaxActiveRunsPerUser > 0 {
		active, err := e.executions.CountActiveByUser(ctx, cmd.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to count active executions: %w", err)
		}

		if active >= e.config.MaxActiveRunsPerUser {
			return nil, fmt.Errorf("%w: user %s has %d active runs", ErrConcurrencyLimit, cmd.UserID, active)
		}
	}

	return e.scheduler.Start(ctx, def, cmd)
}

// UpdateStatus moves a workflow through its lifecycle. Activating requires a valid definition.
// Runs already in flight are not affected.
func (e *Engine) UpdateStatus(ctx context.Context, cmd models.UpdateWorkflowStatusCommand) (*models.WorkflowDefinition, error) {
	err := e.validate.Struct(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	workflow, err := e.workflows.Find(ctx, cmd.WorkflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status == cmd.NewStatus {
		return workflow, nil
	}

	if !transitionAllowed(workflow.Status, cmd.NewStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, workflow.Status, cmd.NewStatus)
	}

	if cmd.NewStatus == models.WorkflowStatusActive {
		_, err = e.Validate(workflow)
		if err != nil {
			return nil, err
		}
	}

	previous := workflow.Status
	workflow.Status = cmd.NewStatus
	workflow.UpdatedAt = e.clock.Now().UTC()

	err = e.workflows.Update(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	e.logger.InfoContext(ctx, "workflow status changed",
		"workflow_id", workflow.ID,
		"from", previous,
		"to", workflow.Status)

	return workflow, nil
}

func transitionAllowed(from, to models.WorkflowStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

func (e *Engine) Resume(ctx context.Context, runID string) error {
	return e.scheduler.Resume(ctx, runID)
}

func (e *Engine) Cancel(ctx context.Context, runID string) error {
	return e.scheduler.Cancel(ctx, runID)
}

func (e *Engine) Execution(ctx context.Context, runID string) (*models.WorkflowExecution, error) {
	return e.executions.Find(ctx, runID)
}

// Executions returns the newest runs of a workflow first.
func (e *Engine) Executions(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	return e.executions.FindByWorkflow(ctx, workflowID, limit)
}

// Stats counts the runs of a workflow per status.
func (e *Engine) Stats(ctx context.Context, workflowID string) (*models.ExecutionStats, error) {
	executions, err := e.executions.FindByWorkflow(ctx, workflowID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load executions: %w", err)
	}

	stats := &models.ExecutionStats{
		WorkflowID: workflowID,
		Total:      len(executions),
		ByStatus:   make(map[models.ExecutionStatus]int),
	}

	for _, execution := range executions {
		stats.ByStatus[execution.Status]++

		if stats.LastRunAt == nil || execution.CreatedAt.After(*stats.LastRunAt) {
			created := execution.CreatedAt
			stats.LastRunAt = &created
		}
	}

	return stats, nil
}

// CreateWorkflow stores a new definition. New workflows start as drafts unless a status is given;
// active workflows must pass validation.
func (e *Engine) CreateWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	err := e.checkStored(workflow)
	if err != nil {
		return err
	}

	now := e.clock.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err = e.workflows.Create(ctx, workflow)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	e.logger.InfoContext(ctx, "workflow created", "workflow_id", workflow.ID, "status", workflow.Status)

	return nil
}

// UpdateWorkflow replaces a stored definition. The status is kept; use UpdateStatus to change it.
func (e *Engine) UpdateWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error {
	existing, err := e.workflows.Find(ctx, workflow.ID)
	if err != nil {
		return err
	}

	workflow.Status = existing.Status
	workflow.CreatedAt = existing.CreatedAt

	err = e.checkStored(workflow)
	if err != nil {
		return err
	}

	workflow.UpdatedAt = e.clock.Now().UTC()

	err = e.workflows.Update(ctx, workflow)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	return nil
}

// checkStored validates fields of every definition and the full graph of active ones.
// Drafts may be incomplete graphs.
func (e *Engine) checkStored(workflow *models.WorkflowDefinition) error {
	if workflow.Status == models.WorkflowStatusActive {
		_, err := e.Validate(workflow)

		return err
	}

	err := e.validate.Struct(workflow)
	if err != nil {
		return &ValidationError{Rule: RuleFields, Err: fmt.Errorf("%w: %v", ErrInvalidDefinition, err)}
	}

	return nil
}

func (e *Engine) Workflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return e.workflows.Find(ctx, id)
}

// Workflows lists definitions in status; an empty status lists all.
func (e *Engine) Workflows(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowDefinition, error) {
	return e.workflows.FindByStatus(ctx, status)
}

func (e *Engine) DeleteWorkflow(ctx context.Context, id string) error {
	return e.workflows.Delete(ctx, id)
}

// HandleEvent starts a run of every active workflow whose trigger matches event.
// A failing workflow does not keep the others from starting.
func (e *Engine) HandleEvent(ctx context.Context, event models.TriggerEvent) ([]*models.WorkflowExecution, error) {
	err := e.validate.Struct(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	active, err := e.workflows.FindByStatus(ctx, models.WorkflowStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load active workflows: %w", err)
	}

	var (
		started []*models.WorkflowExecution
		errs    []error
	)

	for _, match := range e.matcher.MatchWorkflows(event, active) {
		execution, err := e.Execute(ctx, models.ExecuteWorkflowCommand{
			WorkflowID: match.Workflow.ID,
			UserID:     event.UserID,
			Payload:    event.Payload,
		})
		if err != nil {
			e.logger.WarnContext(ctx, "failed to start triggered workflow",
				"workflow_id", match.Workflow.ID,
				"trigger_type", event.Type,
				"error", err)

			errs = append(errs, fmt.Errorf("workflow %s: %w", match.Workflow.ID, err))

			continue
		}

		started = append(started, execution)
	}

	e.logger.InfoContext(ctx, "trigger event handled",
		"trigger_type", event.Type,
		"user_id", event.UserID,
		"started", len(started))

	return started, errors.Join(errs...)
}

