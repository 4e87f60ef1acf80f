// Package config loads engine settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/workflow"
	"gopkg.in/yaml.v3"
)

// EngineFile is the layout of the engine settings file. Omitted keys keep their defaults.
type EngineFile struct {
	MaxRetries           *int                 `yaml:"max_retries"`
	Timeout              *time.Duration       `yaml:"timeout"`
	Mode                 models.ExecutionMode `yaml:"mode"`
	Priority             models.Priority      `yaml:"priority"`
	MaxVisits            int                  `yaml:"max_node_visits"`
	MaxStepsPerTick      int                  `yaml:"max_steps_per_tick"`
	MaxTickDuration      time.Duration        `yaml:"max_tick_duration"`
	BackoffBase          time.Duration        `yaml:"backoff_base"`
	BackoffMax           time.Duration        `yaml:"backoff_max"`
	MaxActiveRunsPerUser int                  `yaml:"max_active_runs_per_user"`
	LeaseDuration        time.Duration        `yaml:"lease_duration"`
	PendingRecoveryAfter time.Duration        `yaml:"pending_recovery_after"`
}

// LoadEngineConfig reads the settings file at path on top of workflow.DefaultConfig.
func LoadEngineConfig(path string) (workflow.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workflow.Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return ParseEngineConfig(data)
}

// LoadEngineConfigOrDefault falls back to the defaults when path is empty or missing.
func LoadEngineConfigOrDefault(path string) (workflow.Config, error) {
	if path == "" {
		return workflow.DefaultConfig(), nil
	}

	cfg, err := LoadEngineConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		return workflow.DefaultConfig(), nil
	}

	return cfg, err
}

// ParseEngineConfig decodes and validates a settings document.
func ParseEngineConfig(data []byte) (workflow.Config, error) {
	var file EngineFile

	err := yaml.Unmarshal(data, &file)
	if err != nil {
		return workflow.Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	err = file.Validate()
	if err != nil {
		return workflow.Config{}, err
	}

	return file.Apply(workflow.DefaultConfig()), nil
}

// Validate rejects values the engine would not accept.
func (f EngineFile) Validate() error {
	if f.MaxRetries != nil && *f.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}

	if f.Timeout != nil && *f.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	switch f.Mode {
	case "", models.ExecutionModeSync, models.ExecutionModeAsync:
	default:
		return fmt.Errorf("unknown mode '%s'", f.Mode)
	}

	switch f.Priority {
	case "", models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
	default:
		return fmt.Errorf("unknown priority '%s'", f.Priority)
	}

	if f.BackoffBase > 0 && f.BackoffMax > 0 && f.BackoffMax < f.BackoffBase {
		return fmt.Errorf("backoff_max must not be below backoff_base")
	}

	if f.LeaseDuration < 0 || f.PendingRecoveryAfter < 0 {
		return fmt.Errorf("lease_duration and pending_recovery_after must not be negative")
	}

	return nil
}

// Apply overrides cfg with every key set in the file.
func (f EngineFile) Apply(cfg workflow.Config) workflow.Config {
	if f.MaxRetries != nil {
		cfg.MaxRetries = *f.MaxRetries
	}

	if f.Timeout != nil {
		cfg.Timeout = *f.Timeout
	}

	if f.Mode != "" {
		cfg.Mode = f.Mode
	}

	if f.Priority != "" {
		cfg.Priority = f.Priority
	}

	if f.MaxVisits > 0 {
		cfg.MaxVisits = f.MaxVisits
	}

	if f.MaxStepsPerTick > 0 {
		cfg.MaxStepsPerTick = f.MaxStepsPerTick
	}

	if f.MaxTickDuration > 0 {
		cfg.MaxTickDuration = f.MaxTickDuration
	}

	if f.BackoffBase > 0 {
		cfg.BackoffBase = f.BackoffBase
	}

	if f.BackoffMax > 0 {
		cfg.BackoffMax = f.BackoffMax
	}

	if f.MaxActiveRunsPerUser > 0 {
		cfg.MaxActiveRunsPerUser = f.MaxActiveRunsPerUser
	}

	if f.LeaseDuration > 0 {
		cfg.LeaseDuration = f.LeaseDuration
	}

	if f.PendingRecoveryAfter > 0 {
		cfg.PendingRecoveryAfter = f.PendingRecoveryAfter
	}

	return cfg
}
