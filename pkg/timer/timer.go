// Package timer schedules the wake-ups of suspended runs.
package timer

import (
	"context"
	"time"
)

// Wakeup asks for run RunID to be resumed at At.
type Wakeup struct {
	RunID string
	At    time.Time
}

// DelayQueue accepts wake-ups. Scheduling the same run twice keeps only the latest time.
type DelayQueue interface {
	Schedule(ctx context.Context, wakeup Wakeup) error
}

// WakeupHandler is called when a wake-up becomes due. A returned error reschedules the wake-up.
type WakeupHandler func(ctx context.Context, runID string) error

// Poller delivers due wake-ups to a handler until ctx is done.
type Poller interface {
	DelayQueue
	Run(ctx context.Context, handler WakeupHandler) error
}

// DefaultPollInterval is how often pollers look for due wake-ups.
const DefaultPollInterval = time.Second

// RetryDelay is how far a wake-up is pushed back after its handler failed.
const RetryDelay = 5 * time.Second
