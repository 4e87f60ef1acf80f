// Package main provides the automation worker: it advances runs, delivers wake-ups and webhooks,
// fires cron schedules and starts workflows on lead events.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/dispatch"
	"github.com/leadpilot/automation/pkg/eventbus"
	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/leadpilot/automation/pkg/queue"
	"github.com/leadpilot/automation/pkg/timer"
	"github.com/leadpilot/automation/pkg/triggers/lead"
	"github.com/leadpilot/automation/pkg/triggers/schedule"
	"github.com/leadpilot/automation/pkg/workflow"
	"golang.org/x/sync/errgroup"
)

type Worker struct {
	id     string
	logger *slog.Logger

	engine    *workflow.Engine
	eventBus  eventbus.EventBus
	timers    timer.Poller
	schedules *schedule.Poller
	webhooks  protocol.ActionDispatcher

	clock         clockwork.Clock
	sweepInterval time.Duration
}

func NewWorker(
	id string,
	engine *workflow.Engine,
	eventBus eventbus.EventBus,
	timers timer.Poller,
	schedules *schedule.Poller,
	webhooks protocol.ActionDispatcher,
	clock clockwork.Clock,
	sweepInterval time.Duration,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:            id,
		logger:        logger.With("module", "automation-worker", "worker_id", id),
		engine:        engine,
		eventBus:      eventBus,
		timers:        timers,
		schedules:     schedules,
		webhooks:      webhooks,
		clock:         clock,
		sweepInterval: sweepInterval,
	}
}

// Register attaches the worker's handlers to the event bus.
func (w *Worker) Register() error {
	scheduler := w.engine.Scheduler()

	err := queue.Consume(w.eventBus, scheduler.HandleWakeup)
	if err != nil {
		return fmt.Errorf("failed to consume run queue: %w", err)
	}

	err = lead.Consume(w.eventBus, w.engine, w.logger)
	if err != nil {
		return fmt.Errorf("failed to consume lead events: %w", err)
	}

	err = dispatch.Deliver(w.eventBus, w.webhooks, w.logger, protocol.ActionWebhook)
	if err != nil {
		return fmt.Errorf("failed to consume webhook actions: %w", err)
	}

	return nil
}

// Start runs until ctx is done. A poller that stops with an error stops the worker.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	err := w.Register()
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	loops := map[string]func(context.Context) error{
		"delay queue": func(ctx context.Context) error {
			return w.timers.Run(ctx, w.engine.Scheduler().HandleWakeup)
		},
		"schedules": w.schedules.Run,
		"sweeper":   w.sweep,
	}

	group, ctx := errgroup.WithContext(ctx)

	for name, loop := range loops {
		group.Go(func() error {
			err := loop(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}

			w.logger.ErrorContext(ctx, "Worker loop stopped", "loop", name, "error", err)

			return fmt.Errorf("%s: %w", name, err)
		})
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	err = group.Wait()
	w.logger.InfoContext(ctx, "Worker stopped")

	return err
}

// sweep resumes due runs whose wake-up or queue message was lost and runs left behind by a
// crashed worker.
func (w *Worker) sweep(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		resumed, err := w.engine.Scheduler().ResumeDue(ctx)
		if err != nil {
			w.logger.WarnContext(ctx, "Failed to resume some due runs", "error", err)
		}

		if resumed > 0 {
			w.logger.InfoContext(ctx, "Resumed due runs", "count", resumed)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}
