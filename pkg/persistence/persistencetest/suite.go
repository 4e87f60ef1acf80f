// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/persistence"
	"github.com/leadpilot/automation/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises p against the repository contracts. p must start empty.
func Run(t *testing.T, p persistence.Persistence) {
	t.Helper()

	t.Run("workflow lifecycle", func(t *testing.T) { workflowLifecycle(t, p) })
	t.Run("execution lifecycle", func(t *testing.T) { executionLifecycle(t, p) })
	t.Run("optimistic update", func(t *testing.T) { optimisticUpdate(t, p) })
	t.Run("concurrent updates", func(t *testing.T) { concurrentUpdates(t, p) })
	t.Run("due and active queries", func(t *testing.T) { dueAndActive(t, p) })
}

func workflowLifecycle(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.WorkflowRepository()

	workflow := testutil.CreateTestWorkflow(testutil.WithStatus(models.WorkflowStatusDraft))
	require.NoError(t, repo.Create(ctx, workflow))
	assert.False(t, workflow.CreatedAt.IsZero())

	err := repo.Create(ctx, workflow)
	require.True(t, persistence.IsAlreadyExists(err), "got %v", err)

	found, err := repo.Find(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, found.Name)
	assert.Len(t, found.Nodes, 3)
	assert.Equal(t, workflow.Edges, found.Edges)
	assert.Equal(t, "new", found.Nodes["tag"].Config["tag"])

	found.Status = models.WorkflowStatusActive
	require.NoError(t, repo.Update(ctx, found))

	active, err := repo.FindByStatus(ctx, models.WorkflowStatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, workflow.ID, active[0].ID)

	drafts, err := repo.FindByStatus(ctx, models.WorkflowStatusDraft)
	require.NoError(t, err)
	assert.Empty(t, drafts)

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	_, err = repo.Find(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = repo.Delete(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = repo.Update(ctx, workflow)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func executionLifecycle(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()
	workflow := testutil.CreateTestWorkflow()

	execution := testutil.CreateTestExecution(workflow)
	require.NoError(t, repo.Create(ctx, execution))
	assert.Equal(t, int64(1), execution.Version)

	err := repo.Create(ctx, execution)
	assert.True(t, persistence.IsAlreadyExists(err), "got %v", err)

	found, err := repo.Find(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.WorkflowID, found.WorkflowID)
	assert.Equal(t, "start", found.CurrentNodeID)
	assert.Equal(t, "start", found.Definition.EntryNodeID)
	assert.Equal(t, "lead-1", found.Context.TriggerEntityID)
	assert.Equal(t, "test", found.Context.Variables["source"])

	_, err = repo.Find(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))

	older := testutil.CreateTestExecution(workflow, testutil.WithCreatedAt(time.Now().UTC().Add(-time.Hour)))
	require.NoError(t, repo.Create(ctx, older))

	runs, err := repo.FindByWorkflow(ctx, workflow.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, execution.ID, runs[0].ID)
	assert.Equal(t, older.ID, runs[1].ID)

	runs, err = repo.FindByWorkflow(ctx, workflow.ID, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	pending, err := repo.FindByStatus(ctx, models.ExecutionStatusPending)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(pending), 2)
}

func optimisticUpdate(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()

	execution := testutil.CreateTestExecution(testutil.CreateTestWorkflow())
	require.NoError(t, repo.Create(ctx, execution))

	first, err := repo.Find(ctx, execution.ID)
	require.NoError(t, err)

	second, err := repo.Find(ctx, execution.ID)
	require.NoError(t, err)

	first.Status = models.ExecutionStatusRunning
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Status = models.ExecutionStatusCancelled
	err = repo.Update(ctx, second)
	require.True(t, persistence.IsVersionConflict(err), "got %v", err)
	assert.Equal(t, int64(1), second.Version)

	stored, err := repo.Find(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
	assert.Equal(t, int64(2), stored.Version)

	missing := testutil.CreateTestExecution(testutil.CreateTestWorkflow())
	err = repo.Update(ctx, missing)
	assert.True(t, persistence.IsExecutionNotFound(err), "got %v", err)
}

func concurrentUpdates(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()

	execution := testutil.CreateTestExecution(testutil.CreateTestWorkflow())
	require.NoError(t, repo.Create(ctx, execution))

	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for i := 0; i < writers; i++ {
		copyOf := execution.Clone()

		wg.Add(1)

		go func() {
			defer wg.Done()

			copyOf.Attempt++
			err := repo.Update(ctx, copyOf)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				succeeded++
			case persistence.IsVersionConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)
}

func dueAndActive(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()
	workflow := testutil.CreateTestWorkflow()
	now := time.Now().UTC().Truncate(time.Second)

	dueEarly := testutil.CreateTestExecution(workflow, testutil.WithUser("due-user"), testutil.WithResumeAt(now.Add(-4*time.Minute)))
	dueLate := testutil.CreateTestExecution(workflow, testutil.WithUser("due-user"), testutil.WithResumeAt(now.Add(-time.Minute)))
	future := testutil.CreateTestExecution(workflow, testutil.WithUser("due-user"), testutil.WithResumeAt(now.Add(time.Hour)))
	done := testutil.CreateTestExecution(workflow, testutil.WithUser("due-user"), testutil.WithExecutionStatus(models.ExecutionStatusCompleted))
	abandoned := testutil.CreateTestExecution(workflow,
		testutil.WithCreatedAt(now.Add(-time.Hour)),
		testutil.WithUpdatedAt(now.Add(-10*time.Minute)),
		testutil.WithLease("gone", now.Add(-3*time.Minute)))
	leased := testutil.CreateTestExecution(workflow, testutil.WithLease("busy", now.Add(time.Minute)))
	stale := testutil.CreateTestExecution(workflow, testutil.WithUpdatedAt(now.Add(-2*time.Minute)))
	fresh := testutil.CreateTestExecution(workflow, testutil.WithUpdatedAt(now))

	created := []*models.WorkflowExecution{dueLate, future, done, dueEarly, abandoned, leased, stale, fresh}
	ours := make(map[string]bool, len(created))

	for _, e := range created {
		require.NoError(t, repo.Create(ctx, e))

		ours[e.ID] = true
	}

	dueIDs := func(query persistence.DueQuery) []string {
		due, err := repo.FindDue(ctx, query)
		require.NoError(t, err)

		ids := make([]string, 0, len(due))
		for _, e := range due {
			if ours[e.ID] {
				ids = append(ids, e.ID)
			}
		}

		return ids
	}

	assert.Equal(t, []string{dueEarly.ID, abandoned.ID, dueLate.ID}, dueIDs(persistence.DueQuery{Now: now, Limit: 100}))
	assert.Equal(t, []string{dueEarly.ID, abandoned.ID, stale.ID, dueLate.ID},
		dueIDs(persistence.DueQuery{Now: now, PendingBefore: now.Add(-time.Minute), Limit: 100}))

	due, err := repo.FindDue(ctx, persistence.DueQuery{Now: now, Limit: 1})
	require.NoError(t, err)
	require.Len(t, due, 1)

	reloaded, err := repo.Find(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, "gone", reloaded.ClaimedBy)
	require.NotNil(t, reloaded.LeaseUntil)
	assert.True(t, reloaded.LeaseUntil.Equal(now.Add(-3*time.Minute)))
	assert.True(t, reloaded.CreatedAt.Equal(now.Add(-time.Hour)))
	assert.True(t, reloaded.UpdatedAt.Equal(now.Add(-10*time.Minute)))

	reloaded.UpdatedAt = now.Add(-30 * time.Second)
	require.NoError(t, repo.Update(ctx, reloaded))

	reloaded, err = repo.Find(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.UpdatedAt.Equal(now.Add(-30*time.Second)))

	count, err := repo.CountActiveByUser(ctx, "due-user")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = repo.CountActiveByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
