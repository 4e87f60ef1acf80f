package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/timer"
	"github.com/leadpilot/automation/pkg/timer/memory"
	"github.com/leadpilot/automation/pkg/timer/redis"
	"github.com/leadpilot/automation/pkg/triggers/schedule"
	goredis "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL. It returns a nil client when redisURL is empty.
func NewRedisClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	client, err := redis.Connect(ctx, redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect delay queue: %w", err)
	}

	return client, nil
}

// NewDelayQueue returns a Redis backed delay queue when client is set and an in-process one otherwise.
func NewDelayQueue(ctx context.Context, client *goredis.Client, clock clockwork.Clock, logger *slog.Logger) timer.Poller {
	if client == nil {
		logger.InfoContext(ctx, "using in-memory delay queue")

		return memory.NewQueue(clock, timer.DefaultPollInterval, logger)
	}

	logger.InfoContext(ctx, "using redis delay queue")

	return redis.NewQueue(client, logger, redis.WithClock(clock))
}

// NewScheduleClaimer shares schedule occurrences through Redis when client is set. Without Redis
// claims only cover the pollers of this process.
func NewScheduleClaimer(ctx context.Context, client *goredis.Client, owner string, logger *slog.Logger) schedule.Claimer {
	if client == nil {
		logger.InfoContext(ctx, "using in-memory schedule claims")

		return schedule.NewMemoryClaimer()
	}

	return schedule.NewRedisClaimer(client, owner, schedule.DefaultClaimTTL)
}
