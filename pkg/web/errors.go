package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/leadpilot/automation/pkg/persistence"
	"github.com/leadpilot/automation/pkg/workflow"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleEngineError maps engine and persistence errors to problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case workflow.IsValidationError(err):
		return badRequest(c, err.Error())

	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return problem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")

	case persistence.IsAlreadyExists(err):
		return problem(c, fiber.StatusConflict, "already_exists", err.Error())

	case errors.Is(err, workflow.ErrWorkflowNotActive):
		return problem(c, fiber.StatusConflict, "workflow_not_active", err.Error())

	case errors.Is(err, workflow.ErrInvalidStatusTransition):
		return problem(c, fiber.StatusConflict, "invalid_status_transition", err.Error())

	case errors.Is(err, workflow.ErrRunAlreadyTerminal):
		return problem(c, fiber.StatusConflict, "run_already_terminal", err.Error())

	case persistence.IsVersionConflict(err):
		return problem(c, fiber.StatusConflict, "version_conflict", err.Error())

	case errors.Is(err, workflow.ErrConcurrencyLimit):
		return problem(c, fiber.StatusTooManyRequests, "concurrency_limit", err.Error())

	default:
		return internalError(c, err)
	}
}
