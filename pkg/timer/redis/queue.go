// Package redis implements a shared delay queue on a Redis sorted set.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/timer"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKey   = "automation:wakeups"
	defaultBatch = 100
)

// Queue keeps one member per run scored by its wake-up time in unix milliseconds.
// Workers claim a due member with ZREM, so each wake-up is delivered to one worker.
type Queue struct {
	client   redis.UniversalClient
	key      string
	batch    int64
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithKey sets the sorted set key.
func WithKey(key string) Option {
	return func(q *Queue) { q.key = key }
}

// WithClock sets the clock used to decide what is due.
func WithClock(clock clockwork.Clock) Option {
	return func(q *Queue) { q.clock = clock }
}

// WithPollInterval sets how often Run polls.
func WithPollInterval(interval time.Duration) Option {
	return func(q *Queue) { q.interval = interval }
}

// NewQueue creates a queue on client.
func NewQueue(client redis.UniversalClient, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		client:   client,
		key:      defaultKey,
		batch:    defaultBatch,
		interval: timer.DefaultPollInterval,
		clock:    clockwork.NewRealClock(),
		logger:   logger.With("module", "timer.redis"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Schedule adds or moves the wake-up of a run.
func (q *Queue) Schedule(ctx context.Context, wakeup timer.Wakeup) error {
	err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(wakeup.At.UnixMilli()),
		Member: wakeup.RunID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule wake-up for %s: %w", wakeup.RunID, err)
	}

	return nil
}

// Len is the number of runs waiting.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}

// Claim removes and returns up to one batch of due runs. A member removed by another worker is skipped.
func (q *Queue) Claim(ctx context.Context) ([]string, error) {
	now := q.clock.Now().UnixMilli()

	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: q.batch,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read due wake-ups: %w", err)
	}

	claimed := make([]string, 0, len(members))

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim wake-up %s: %w", member, err)
		}

		if removed == 1 {
			claimed = append(claimed, member)
		}
	}

	return claimed, nil
}

// Poll claims due wake-ups and hands them to handler. Failed ones are pushed back by timer.RetryDelay.
func (q *Queue) Poll(ctx context.Context, handler timer.WakeupHandler) (int, error) {
	claimed, err := q.Claim(ctx)

	for _, runID := range claimed {
		handlerErr := handler(ctx, runID)
		if handlerErr == nil {
			continue
		}

		q.logger.WarnContext(ctx, "wake-up handler failed, rescheduling", "execution_id", runID, "error", handlerErr)

		scheduleErr := q.Schedule(ctx, timer.Wakeup{RunID: runID, At: q.clock.Now().Add(timer.RetryDelay)})
		if scheduleErr != nil {
			q.logger.ErrorContext(ctx, "failed to reschedule wake-up", "execution_id", runID, "error", scheduleErr)
		}
	}

	return len(claimed), err
}

// Run polls until ctx is done. Redis errors are logged and retried on the next tick.
func (q *Queue) Run(ctx context.Context, handler timer.WakeupHandler) error {
	ticker := q.clock.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		_, err := q.Poll(ctx, handler)
		if err != nil && ctx.Err() == nil {
			q.logger.ErrorContext(ctx, "failed to poll wake-ups", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}
