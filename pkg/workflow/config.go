package workflow

import (
	"time"

	"github.com/leadpilot/automation/pkg/models"
)

// Config holds the engine-wide defaults and limits.
type Config struct {
	// MaxRetries applies when the command does not set one.
	MaxRetries int
	// Timeout is the default run deadline, measured from creation. Zero disables it.
	Timeout time.Duration
	Mode    models.ExecutionMode
	// Priority is forwarded to the run queue untouched.
	Priority models.Priority

	// MaxVisits caps node visits per run.
	MaxVisits int
	// A tick stops after MaxStepsPerTick steps or MaxTickDuration, whichever comes first.
	MaxStepsPerTick int
	MaxTickDuration time.Duration

	BackoffBase time.Duration
	BackoffMax  time.Duration

	// MaxActiveRunsPerUser limits non-terminal runs per user; 0 means unlimited.
	MaxActiveRunsPerUser int

	// WorkerID is attached to published events and recorded as the owner of claimed runs.
	WorkerID string
	// LeaseDuration is how long a running run stays owned by the worker that last saved it.
	// It must outlast the slowest single node.
	LeaseDuration time.Duration
	// PendingRecoveryAfter is how long a pending run may wait before the due sweep runs it.
	PendingRecoveryAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		Timeout:         300 * time.Second,
		Mode:            models.ExecutionModeAsync,
		Priority:        models.PriorityNormal,
		MaxVisits:       1000,
		MaxStepsPerTick: 50,
		MaxTickDuration: 2 * time.Second,
		BackoffBase:     5 * time.Second,
		BackoffMax:      time.Hour,

		LeaseDuration:        5 * time.Minute,
		PendingRecoveryAfter: time.Minute,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.Mode == "" {
		c.Mode = def.Mode
	}

	if c.Priority == "" {
		c.Priority = def.Priority
	}

	if c.MaxVisits <= 0 {
		c.MaxVisits = def.MaxVisits
	}

	if c.MaxStepsPerTick <= 0 {
		c.MaxStepsPerTick = def.MaxStepsPerTick
	}

	if c.MaxTickDuration <= 0 {
		c.MaxTickDuration = def.MaxTickDuration
	}

	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}

	if c.BackoffMax <= 0 {
		c.BackoffMax = def.BackoffMax
	}

	if c.LeaseDuration <= 0 {
		c.LeaseDuration = def.LeaseDuration
	}

	if c.PendingRecoveryAfter <= 0 {
		c.PendingRecoveryAfter = def.PendingRecoveryAfter
	}

	return c
}
