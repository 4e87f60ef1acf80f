// Package schedule starts workflows from cron triggers. A single poller tracks the next due
// time of every schedule trigger of the active workflows.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/robfig/cron/v3"
)

var ErrNotScheduleTrigger = errors.New("trigger is not a schedule trigger")

// Schedule is one cron trigger of a workflow.
type Schedule struct {
	WorkflowID     string
	CronExpression string
	// UserID owns the runs the schedule starts.
	UserID         string
	NextDueAt      time.Time

	cron cron.Schedule
}

// NewSchedule parses the trigger expression and computes the first due time after now.
func NewSchedule(workflowID string, trigger models.TriggerSpec, now time.Time) (*Schedule, error) {
	if trigger.Type != models.TriggerTypeSchedule {
		return nil, fmt.Errorf("%w: %s", ErrNotScheduleTrigger, trigger.Type)
	}

	expr := trigger.CronExpression()

	parsed, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	return &Schedule{
		WorkflowID:     workflowID,
		CronExpression: expr,
		NextDueAt:      parsed.Next(now.UTC()),
		cron:           parsed,
	}, nil
}

// Key identifies the schedule among all schedules of all workflows.
func (s *Schedule) Key() string {
	return s.WorkflowID + "|" + s.CronExpression
}

// Due reports whether the schedule should fire at now.
func (s *Schedule) Due(now time.Time) bool {
	return !s.NextDueAt.After(now)
}

// Advance moves NextDueAt past now. Occurrences missed while the poller was down are skipped.
func (s *Schedule) Advance(now time.Time) {
	s.NextDueAt = s.cron.Next(now.UTC())
}
