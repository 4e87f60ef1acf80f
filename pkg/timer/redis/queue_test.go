package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "redis")
	require.NoError(t, err)

	return endpoint
}

func TestQueue_ClaimDueWakeups(t *testing.T) {
	url := setupRedis(t)
	ctx := context.Background()

	client, err := Connect(ctx, url)
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	q := NewQueue(client, nil, WithKey("test:claim"), WithClock(clock))

	require.NoError(t, q.Schedule(ctx, timer.Wakeup{RunID: "run-a", At: clock.Now().Add(time.Minute)}))
	require.NoError(t, q.Schedule(ctx, timer.Wakeup{RunID: "run-b", At: clock.Now().Add(time.Hour)}))
	require.NoError(t, q.Schedule(ctx, timer.Wakeup{RunID: "run-a", At: clock.Now().Add(2 * time.Minute)}))

	size, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	clock.Advance(time.Minute)

	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	clock.Advance(time.Minute)

	claimed, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a"}, claimed)

	claimed, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestQueue_EachWakeupClaimedOnce(t *testing.T) {
	url := setupRedis(t)
	ctx := context.Background()

	client, err := Connect(ctx, url)
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	producer := NewQueue(client, nil, WithKey("test:race"))
	for _, runID := range []string{"r1", "r2", "r3", "r4", "r5"} {
		require.NoError(t, producer.Schedule(ctx, timer.Wakeup{RunID: runID, At: time.Now().Add(-time.Second)}))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			worker := NewQueue(client, nil, WithKey("test:race"))
			_, err := worker.Poll(ctx, func(_ context.Context, runID string) error {
				mu.Lock()
				seen[runID]++
				mu.Unlock()

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Len(t, seen, 5)

	for runID, count := range seen {
		assert.Equal(t, 1, count, runID)
	}
}

func TestQueue_PollReschedulesFailedWakeups(t *testing.T) {
	url := setupRedis(t)
	ctx := context.Background()

	client, err := Connect(ctx, url)
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	q := NewQueue(client, nil, WithKey("test:retry"), WithClock(clock))

	require.NoError(t, q.Schedule(ctx, timer.Wakeup{RunID: "run-1", At: clock.Now()}))

	handled, err := q.Poll(ctx, func(context.Context, string) error { return errors.New("down") })
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	size, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	clock.Advance(timer.RetryDelay)

	claimed, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, claimed)
}
