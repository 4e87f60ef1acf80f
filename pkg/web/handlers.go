package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/registry"
	"github.com/leadpilot/automation/pkg/workflow"
)

const defaultExecutionsLimit = 50

// HealthChecker reports whether a backend is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	engine    *workflow.Engine
	registry  *registry.Registry
	storage   HealthChecker
	validator *validator.Validate
}

func NewAPIHandlers(
	engine *workflow.Engine,
	registry *registry.Registry,
	storage HealthChecker,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		registry:  registry,
		storage:   storage,
		validator: validator,
	}
}

// Register mounts every route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/node-types", h.GetNodeTypes)
	router.Post("/events", h.HandleEvent)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Post("/validate", h.ValidateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Patch("/:id/status", h.UpdateWorkflowStatus)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Get("/:id/executions", h.GetExecutions)
	w.Get("/:id/stats", h.GetStats)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)
	e.Post("/:id/resume", h.ResumeExecution)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	checks := fiber.Map{"registry": "ok", "persistence": "ok"}
	httpStatus := http.StatusOK
	status := "healthy"

	if err := h.registry.HealthCheck(); err != nil {
		checks["registry"] = err.Error()
		httpStatus = http.StatusServiceUnavailable
	}

	if err := h.storage.HealthCheck(c.Context()); err != nil {
		checks["persistence"] = err.Error()
		httpStatus = http.StatusServiceUnavailable
	}

	if httpStatus != http.StatusOK {
		status = "unhealthy"
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"checkers":  checks,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	factories := h.registry.Factories()

	nodeTypes := make([]NodeTypeResponse, 0, len(factories))
	for _, factory := range factories {
		nodeTypes = append(nodeTypes, TransformNodeType(factory))
	}

	return c.JSON(nodeTypes)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	status := models.WorkflowStatus(c.Query("status"))

	if status != "" {
		if err := h.validator.Var(string(status), "oneof=draft active paused archived"); err != nil {
			return badRequest(c, "Invalid status filter: "+string(status))
		}
	}

	workflows, err := h.engine.Workflows(c.Context(), status)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.Workflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	workflow := req.Definition()

	err = h.engine.CreateWorkflow(c.Context(), workflow)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

// ValidateWorkflow checks a definition without storing it.
func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	def, err := h.engine.Validate(req.Definition())
	if err != nil {
		return handleEngineError(c, err)
	}

	warnings := def.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	return c.JSON(ValidationResponse{Valid: true, EntryNodeID: def.EntryNodeID, Warnings: warnings})
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	workflow := req.Definition()
	workflow.ID = c.Params("id")

	err = h.engine.UpdateWorkflow(c.Context(), workflow)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.engine.DeleteWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) UpdateWorkflowStatus(c fiber.Ctx) error {
	var req UpdateStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.engine.UpdateStatus(c.Context(), models.UpdateWorkflowStatusCommand{
		WorkflowID: c.Params("id"),
		NewStatus:  req.Status,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

// ExecuteWorkflow starts a run. Sync runs answer 200 with the settled record, async runs 202.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	cmd, err := req.Command(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid timeout: "+err.Error())
	}

	execution, err := h.engine.Execute(c.Context(), cmd)
	if err != nil {
		return handleEngineError(c, err)
	}

	status := fiber.StatusOK
	if execution.Mode == models.ExecutionModeAsync {
		status = fiber.StatusAccepted
	}

	return c.Status(status).JSON(execution)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	limit := defaultExecutionsLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid limit: "+limitStr)
		}

		limit = parsed
	}

	id := c.Params("id")

	_, err := h.engine.Workflow(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	executions, err := h.engine.Executions(c.Context(), id, limit)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	id := c.Params("id")

	_, err := h.engine.Workflow(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	stats, err := h.engine.Stats(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.engine.Execution(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	return h.transition(c, h.engine.Cancel)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	return h.transition(c, h.engine.Resume)
}

func (h *APIHandlers) transition(c fiber.Ctx, apply func(ctx context.Context, runID string) error) error {
	id := c.Params("id")

	err := apply(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	execution, err := h.engine.Execution(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

// HandleEvent starts every active workflow whose trigger matches the event. Workflows that
// failed to start are listed in the response; the others still run.
func (h *APIHandlers) HandleEvent(c fiber.Ctx) error {
	var event models.TriggerEvent
	if err := c.Bind().JSON(&event); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	started, err := h.engine.HandleEvent(c.Context(), event)
	if len(started) == 0 && errors.Is(err, workflow.ErrInvalidCommand) {
		return badRequest(c, err.Error())
	}

	response := EventResponse{Started: started}
	if response.Started == nil {
		response.Started = []*models.WorkflowExecution{}
	}

	if err != nil {
		response.Errors = unwrapJoined(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(response)
}

func (h *APIHandlers) bindWorkflow(c fiber.Ctx) (*WorkflowRequest, error) {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, errors.New("invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}

func unwrapJoined(err error) []string {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []string{err.Error()}
	}

	var messages []string
	for _, e := range joined.Unwrap() {
		messages = append(messages, e.Error())
	}

	return messages
}
