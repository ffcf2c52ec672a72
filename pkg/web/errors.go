package web

import (
	"errors"

	"github.com/dukex/orchestron/pkg/dispatcher"
	"github.com/dukex/orchestron/pkg/persistence"
	"github.com/dukex/orchestron/pkg/status"
	"github.com/dukex/orchestron/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, code int, problemType, detail string) error {
	p := problems.NewStatusProblem(code).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(code).JSON(p)
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

// handleError maps engine errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case workflow.IsInvalid(err):
		return problem(c, fiber.StatusUnprocessableEntity, "invalid_workflow", err.Error())
	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")
	case persistence.IsExecutionNotFound(err):
		return problem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")
	case errors.Is(err, dispatcher.ErrExecutionNotRunning),
		errors.Is(err, dispatcher.ErrExecutionNotPaused),
		status.IsIllegalTransition(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())
	case errors.Is(err, dispatcher.ErrControllerStopped):
		return problem(c, fiber.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		return internalError(c, err)
	}
}
