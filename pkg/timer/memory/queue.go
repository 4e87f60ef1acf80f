// Package memory implements an in-process delay queue on a min-heap.
package memory

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/timer"
)

type entry struct {
	runID string
	at    time.Time
}

type entries []entry

func (e entries) Len() int           { return len(e) }
func (e entries) Less(i, j int) bool { return e[i].at.Before(e[j].at) }
func (e entries) Swap(i, j int)      { e[i], e[j] = e[j], e[i] }
func (e *entries) Push(x any)        { *e = append(*e, x.(entry)) }

func (e *entries) Pop() any {
	old := *e
	n := len(old)
	item := old[n-1]
	*e = old[:n-1]

	return item
}

// Queue is a timer.Poller held in memory. Pending wake-ups are lost on restart.
type Queue struct {
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	heap    entries
	latest  map[string]time.Time
	trigger chan struct{}
}

// NewQueue creates a memory queue polling every interval.
func NewQueue(clock clockwork.Clock, interval time.Duration, logger *slog.Logger) *Queue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if interval <= 0 {
		interval = timer.DefaultPollInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		clock:    clock,
		interval: interval,
		logger:   logger.With("module", "timer.memory"),
		latest:   make(map[string]time.Time),
		trigger:  make(chan struct{}, 1),
	}
}

// Schedule records the wake-up, replacing any earlier one for the same run.
func (q *Queue) Schedule(_ context.Context, wakeup timer.Wakeup) error {
	q.mu.Lock()
	q.latest[wakeup.RunID] = wakeup.At
	heap.Push(&q.heap, entry{runID: wakeup.RunID, at: wakeup.At})
	q.mu.Unlock()

	select {
	case q.trigger <- struct{}{}:
	default:
	}

	return nil
}

// Len is the number of runs waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.latest)
}

// Due removes and returns the runs whose wake-up time has come, earliest first.
func (q *Queue) Due() []string {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var due []string

	for q.heap.Len() > 0 && !q.heap[0].at.After(now) {
		item := heap.Pop(&q.heap).(entry)

		at, ok := q.latest[item.runID]
		if !ok || !at.Equal(item.at) {
			continue
		}

		delete(q.latest, item.runID)
		due = append(due, item.runID)
	}

	return due
}

// Poll hands every due wake-up to handler once. Failed wake-ups are pushed back by timer.RetryDelay.
func (q *Queue) Poll(ctx context.Context, handler timer.WakeupHandler) int {
	due := q.Due()

	for _, runID := range due {
		err := handler(ctx, runID)
		if err != nil {
			q.logger.WarnContext(ctx, "wake-up handler failed, rescheduling", "execution_id", runID, "error", err)
			_ = q.Schedule(ctx, timer.Wakeup{RunID: runID, At: q.clock.Now().Add(timer.RetryDelay)})
		}
	}

	return len(due)
}

// Run polls until ctx is done.
func (q *Queue) Run(ctx context.Context, handler timer.WakeupHandler) error {
	ticker := q.clock.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		q.Poll(ctx, handler)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		case <-q.trigger:
		}
	}
}
