package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/eventbus"
	"github.com/leadpilot/automation/pkg/persistence"
	"github.com/leadpilot/automation/pkg/queue"
	"github.com/leadpilot/automation/pkg/registry"
	"github.com/leadpilot/automation/pkg/timer"
	"github.com/leadpilot/automation/pkg/triggers/schedule"
	"github.com/leadpilot/automation/pkg/workflow"
)

// StackConfig selects the backends of one process.
type StackConfig struct {
	ServiceName  string
	DatabaseURL  string
	EventBus     string
	KafkaBrokers string
	RedisURL     string
	Engine       workflow.Config
}

// Stack is the engine with every collaborator it was built from.
type Stack struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Timers      timer.Poller
	Claims      schedule.Claimer
	Registry    *registry.Registry
	Engine      *workflow.Engine

	closers []func(context.Context) error
}

// NewStack opens persistence, the event bus, Redis when configured and the delay queue and wires
// the engine over them.
// Runs are queued on the event bus. On error everything opened so far is closed again.
func NewStack(ctx context.Context, config StackConfig, logger *slog.Logger) (*Stack, error) {
	clock := clockwork.NewRealClock()
	stack := &Stack{}

	p, err := NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	stack.Persistence = p
	stack.closers = append(stack.closers, p.Close)

	bus, err := NewEventBus(config.EventBus, config.KafkaBrokers, config.ServiceName, logger)
	if err != nil {
		_ = stack.Close(ctx)

		return nil, err
	}

	stack.EventBus = bus
	stack.closers = append(stack.closers, func(context.Context) error { return bus.Close() })

	client, err := NewRedisClient(ctx, config.RedisURL)
	if err != nil {
		_ = stack.Close(ctx)

		return nil, err
	}

	if client != nil {
		stack.closers = append(stack.closers, func(context.Context) error { return client.Close() })
	}

	timers := NewDelayQueue(ctx, client, clock, logger)
	stack.Timers = timers
	stack.Claims = NewScheduleClaimer(ctx, client, config.Engine.WorkerID, logger)

	stack.Registry = NewRegistry(logger, bus, clock)
	stack.Engine = workflow.NewEngine(
		p,
		stack.Registry,
		queue.NewEventBusQueue(bus),
		timers,
		config.Engine,
		logger,
		workflow.WithEventPublisher(bus),
		workflow.WithClock(clock),
	)

	return stack, nil
}

// Close releases the backends in reverse order of opening.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error

	for i := len(s.closers) - 1; i >= 0; i-- {
		err := s.closers[i](ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	s.closers = nil

	return errors.Join(errs...)
}
