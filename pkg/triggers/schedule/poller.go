package schedule

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/models"
)

// DefaultUserID owns scheduled runs of workflows without an owner.
const DefaultUserID = "scheduler"

// WorkflowSource lists stored workflow definitions.
type WorkflowSource interface {
	Workflows(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowDefinition, error)
}

// Starter starts workflow runs.
type Starter interface {
	Execute(ctx context.Context, cmd models.ExecuteWorkflowCommand) (*models.WorkflowExecution, error)
}

// Poller fires the schedule triggers of active workflows. Every interval it reloads the
// workflows and starts a run for each schedule whose due time has passed. An occurrence starts
// a run only on the poller that claims it.
type Poller struct {
	source   WorkflowSource
	starter  Starter
	clock    clockwork.Clock
	interval time.Duration
	claimer  Claimer
	logger   *slog.Logger

	mu        sync.Mutex
	schedules map[string]*Schedule
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithClaimer shares occurrence claims with other pollers. The default only covers this poller.
func WithClaimer(claimer Claimer) PollerOption {
	return func(p *Poller) {
		p.claimer = claimer
	}
}

func NewPoller(
	source WorkflowSource,
	starter Starter,
	clock clockwork.Clock,
	interval time.Duration,
	logger *slog.Logger,
	opts ...PollerOption,
) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if interval <= 0 {
		interval = time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	p := &Poller{
		source:    source,
		starter:   starter,
		clock:     clock,
		interval:  interval,
		claimer:   NewMemoryClaimer(),
		logger:    logger.With("module", "schedule_poller"),
		schedules: make(map[string]*Schedule),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Sync reconciles the tracked schedules with the active workflows. Schedules that still exist
// keep their due time; new ones are due at their next occurrence.
func (p *Poller) Sync(ctx context.Context) error {
	workflows, err := p.source.Workflows(ctx, models.WorkflowStatusActive)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	next := make(map[string]*Schedule)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, workflow := range workflows {
		for _, trigger := range workflow.Triggers {
			if trigger.Type != models.TriggerTypeSchedule {
				continue
			}

			schedule, err := NewSchedule(workflow.ID, trigger, now)
			if err != nil {
				p.logger.WarnContext(ctx, "skipping invalid schedule trigger",
					"workflow_id", workflow.ID,
					"error", err)

				continue
			}

			schedule.UserID = workflow.Owner
			if schedule.UserID == "" {
				schedule.UserID = DefaultUserID
			}

			if existing, ok := p.schedules[schedule.Key()]; ok {
				existing.UserID = schedule.UserID
				schedule = existing
			}

			next[schedule.Key()] = schedule
		}
	}

	added, removed := 0, 0

	for key := range next {
		if _, ok := p.schedules[key]; !ok {
			added++
		}
	}

	for key := range p.schedules {
		if _, ok := next[key]; !ok {
			removed++
		}
	}

	p.schedules = next

	if added > 0 || removed > 0 {
		p.logger.InfoContext(ctx, "schedules synced", "total", len(next), "added", added, "removed", removed)
	}

	return nil
}

// Poll starts a run for every due schedule this poller claims and returns how many were fired.
// An occurrence whose claim fails is skipped rather than risk a second run.
func (p *Poller) Poll(ctx context.Context) int {
	now := p.clock.Now()

	p.mu.Lock()

	var due []*Schedule

	for _, schedule := range p.schedules {
		if schedule.Due(now) {
			due = append(due, schedule)
		}
	}

	p.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].Key() < due[j].Key() })

	fired := 0

	for _, schedule := range due {
		dueAt := schedule.NextDueAt

		p.mu.Lock()
		schedule.Advance(now)
		p.mu.Unlock()

		won, err := p.claimer.Claim(ctx, schedule.Key(), dueAt)
		if err != nil {
			p.logger.WarnContext(ctx, "failed to claim schedule occurrence, skipping it",
				"workflow_id", schedule.WorkflowID,
				"cron", schedule.CronExpression,
				"due_at", dueAt,
				"error", err)

			continue
		}

		if !won {
			p.logger.DebugContext(ctx, "schedule occurrence claimed elsewhere",
				"workflow_id", schedule.WorkflowID,
				"due_at", dueAt)

			continue
		}

		execution, err := p.starter.Execute(ctx, models.ExecuteWorkflowCommand{
			WorkflowID: schedule.WorkflowID,
			UserID:     schedule.UserID,
			Payload: map[string]any{
				"cron_expression": schedule.CronExpression,
				"due_at":          dueAt.Format(time.RFC3339),
				"fired_at":        now.UTC().Format(time.RFC3339),
			},
		})
		if err != nil {
			p.logger.WarnContext(ctx, "failed to start scheduled workflow",
				"workflow_id", schedule.WorkflowID,
				"cron", schedule.CronExpression,
				"error", err)

			continue
		}

		fired++

		p.logger.InfoContext(ctx, "scheduled workflow started",
			"workflow_id", schedule.WorkflowID,
			"execution_id", execution.ID,
			"cron", schedule.CronExpression,
			"next_due_at", schedule.NextDueAt)
	}

	return fired
}

// Schedules returns a copy of the tracked schedules ordered by due time.
func (p *Poller) Schedules() []Schedule {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Schedule, 0, len(p.schedules))
	for _, schedule := range p.schedules {
		out = append(out, *schedule)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextDueAt.Equal(out[j].NextDueAt) {
			return out[i].NextDueAt.Before(out[j].NextDueAt)
		}

		return out[i].Key() < out[j].Key()
	})

	return out
}

// Run syncs and polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "starting schedule poller", "interval", p.interval)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "schedule poller stopped")

			return nil
		case <-ticker.Chan():
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	err := p.Sync(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to sync schedules", "error", err)
	}

	p.Poll(ctx)
}
