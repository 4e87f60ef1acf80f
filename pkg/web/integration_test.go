//go:build integration

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/leadpilot/automation/pkg/dispatch"
	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/persistence/postgresql"
	"github.com/leadpilot/automation/pkg/queue"
	"github.com/leadpilot/automation/pkg/registry"
	"github.com/leadpilot/automation/pkg/timer/memory"
	"github.com/leadpilot/automation/pkg/web"
	"github.com/leadpilot/automation/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupIntegrationApp(t *testing.T) *fiber.App {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("automation_api"),
		postgres.WithUsername("automation"),
		postgres.WithPassword("automation"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)

	persistence, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() { _ = persistence.Close(context.Background()) })

	clock := clockwork.NewRealClock()
	nodes := registry.NewDefaultRegistry(logger, registry.Dependencies{
		Dispatcher: dispatch.NewRecorder(),
		Clock:      clock,
		Logger:     logger,
	})

	config := workflow.DefaultConfig()
	config.Mode = models.ExecutionModeSync

	engine := workflow.NewEngine(persistence, nodes, queue.NewMemoryQueue(), memory.NewQueue(clock, 0, logger), config, logger)

	app := fiber.New()
	web.NewAPIHandlers(engine, nodes, persistence, validator.New(validator.WithRequiredStructEnabled())).Register(app)

	return app
}

func send(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func TestWorkflowLifecycle_Integration(t *testing.T) {
	app := setupIntegrationApp(t)

	resp := send(t, app, http.MethodPost, "/workflows", workflowRequest(models.WorkflowStatusDraft))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = send(t, app, http.MethodPatch, "/workflows/welcome/status", web.UpdateStatusRequest{Status: models.WorkflowStatusActive})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(t, app, http.MethodPost, "/workflows/welcome/execute", web.ExecuteRequest{UserID: "user-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execution models.WorkflowExecution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&execution))
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Contains(t, execution.Context.Variables, "tags")

	resp = send(t, app, http.MethodGet, "/workflows/welcome/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats models.ExecutionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.ByStatus[models.ExecutionStatusCompleted])
}

func TestSuspendedRunCancel_Integration(t *testing.T) {
	app := setupIntegrationApp(t)

	resp := send(t, app, http.MethodPost, "/workflows", delayRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = send(t, app, http.MethodPost, "/workflows/nurture/execute", web.ExecuteRequest{UserID: "user-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execution models.WorkflowExecution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&execution))
	require.Equal(t, models.ExecutionStatusSuspended, execution.Status)
	require.NotNil(t, execution.ResumeAt)

	resp = send(t, app, http.MethodPost, "/executions/"+execution.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(t, app, http.MethodPost, "/executions/"+execution.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
