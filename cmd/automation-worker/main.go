package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/cmd"
	"github.com/leadpilot/automation/pkg/dispatch"
	"github.com/leadpilot/automation/pkg/log"
	"github.com/leadpilot/automation/pkg/otelhelper"
	"github.com/leadpilot/automation/pkg/triggers/schedule"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "automation-worker"

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.DurationFlag{
			Name:    "schedule-interval",
			Usage:   "How often cron schedules are checked",
			Value:   15 * time.Second,
			Sources: cli.EnvVars("SCHEDULE_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "How often suspended runs past their resume time are swept",
			Value:   time.Minute,
			Sources: cli.EnvVars("SWEEP_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "webhook-timeout",
			Usage:   "HTTP client timeout for webhook deliveries",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("WEBHOOK_TIMEOUT"),
		},
	}
	flags = append(flags, cmd.BackendFlags()...)
	flags = append(flags, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute lead workflows",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule(serviceName).With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing automation worker")

			shutdown, err := otelhelper.Setup(ctx, serviceName)
			if err != nil {
				return err
			}

			defer func() {
				err := shutdown(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shut down tracer provider", "error", err)
				}
			}()

			engineConfig, err := cmd.EngineConfig(command)
			if err != nil {
				return err
			}

			engineConfig.WorkerID = workerID

			stack, err := cmd.NewStack(ctx, cmd.StackConfigFrom(command, serviceName, engineConfig), logger)
			if err != nil {
				return err
			}

			defer func() {
				err := stack.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close backends", "error", err)
				}
			}()

			clock := clockwork.NewRealClock()
			webhooks := dispatch.NewWebhookDispatcher(&http.Client{Timeout: command.Duration("webhook-timeout")}, logger)
			schedules := schedule.NewPoller(stack.Engine, stack.Engine, clock, command.Duration("schedule-interval"), logger,
				schedule.WithClaimer(stack.Claims))

			worker := NewWorker(
				workerID,
				stack.Engine,
				stack.EventBus,
				stack.Timers,
				schedules,
				webhooks,
				clock,
				command.Duration("sweep-interval"),
				logger,
			)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return worker.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule(serviceName).Error("Worker stopped", "error", err)
		os.Exit(1)
	}
}
