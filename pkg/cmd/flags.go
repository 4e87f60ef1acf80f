package cmd

import (
	"fmt"

	"github.com/leadpilot/automation/pkg/config"
	"github.com/leadpilot/automation/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

// BackendFlags select persistence, the event bus and the delay queue.
func BackendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres://..., file://... or a directory)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, memory)",
			Value:   "kafka",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka broker list",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the delay queue; empty keeps wake-ups in memory",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// EngineFlags override the engine config file.
func EngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to the engine YAML config file",
			Sources: cli.EnvVars("ENGINE_CONFIG"),
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Default retries per node",
			Sources: cli.EnvVars("MAX_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "run-timeout",
			Usage:   "Default run deadline; 0 disables it",
			Sources: cli.EnvVars("RUN_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "max-node-visits",
			Usage:   "Node visits allowed per run",
			Sources: cli.EnvVars("MAX_NODE_VISITS"),
		},
		&cli.IntFlag{
			Name:    "max-steps-per-tick",
			Usage:   "Steps a worker takes before yielding a run",
			Sources: cli.EnvVars("MAX_STEPS_PER_TICK"),
		},
		&cli.DurationFlag{
			Name:    "backoff-base",
			Usage:   "First retry delay",
			Sources: cli.EnvVars("BACKOFF_BASE"),
		},
		&cli.DurationFlag{
			Name:    "backoff-max",
			Usage:   "Retry delay cap",
			Sources: cli.EnvVars("BACKOFF_MAX"),
		},
		&cli.IntFlag{
			Name:    "max-active-runs-per-user",
			Usage:   "Active runs allowed per user; 0 is unlimited",
			Sources: cli.EnvVars("MAX_ACTIVE_RUNS_PER_USER"),
		},
	}
}

// EngineConfig builds the engine config: defaults, then the config file, then flags that were set.
func EngineConfig(command *cli.Command) (workflow.Config, error) {
	cfg, err := config.LoadEngineConfigOrDefault(command.String("config"))
	if err != nil {
		return cfg, fmt.Errorf("failed to load engine config: %w", err)
	}

	if command.IsSet("max-retries") {
		cfg.MaxRetries = command.Int("max-retries")
	}

	if command.IsSet("run-timeout") {
		cfg.Timeout = command.Duration("run-timeout")
	}

	if command.IsSet("max-node-visits") {
		cfg.MaxVisits = command.Int("max-node-visits")
	}

	if command.IsSet("max-steps-per-tick") {
		cfg.MaxStepsPerTick = command.Int("max-steps-per-tick")
	}

	if command.IsSet("backoff-base") {
		cfg.BackoffBase = command.Duration("backoff-base")
	}

	if command.IsSet("backoff-max") {
		cfg.BackoffMax = command.Duration("backoff-max")
	}

	if command.IsSet("max-active-runs-per-user") {
		cfg.MaxActiveRunsPerUser = command.Int("max-active-runs-per-user")
	}

	return cfg, nil
}

// StackConfigFrom reads the backend flags.
func StackConfigFrom(command *cli.Command, serviceName string, engine workflow.Config) StackConfig {
	return StackConfig{
		ServiceName:  serviceName,
		DatabaseURL:  command.String("database-url"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: command.String("kafka-brokers"),
		RedisURL:     command.String("redis-url"),
		Engine:       engine,
	}
}
