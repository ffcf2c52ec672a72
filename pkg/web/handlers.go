// Package web provides HTTP handlers and REST API endpoints for workflows and their executions.
package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/registry"
	"github.com/dukex/orchestron/pkg/status"
	"github.com/dukex/orchestron/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflows  *workflow.Repository
	tracker    *status.Tracker
	controller Controller
	validator  *validator.Validate
	registry   *registry.Registry
}

func NewAPIHandlers(
	workflows *workflow.Repository,
	tracker *status.Tracker,
	controller Controller,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflows:  workflows,
		tracker:    tracker,
		controller: controller,
		validator:  validator,
		registry:   registry,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.FetchAll(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	wf, err := h.workflows.FetchByID(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(wf)
}

// CreateWorkflow stores the workflow even when its graph is invalid; the
// outcome is reported in is_valid and errors.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req models.Workflow
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflows.Create(c.Context(), &req)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req models.Workflow
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflows.Update(c.Context(), id, &req)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.workflows.Delete(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	st, err := h.controller.Execute(c.Context(), req.WorkflowID)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(st)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")

	st, err := h.tracker.Workflow(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	actions, err := h.tracker.Actions(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(ExecutionResponse{WorkflowStatus: st, Actions: actions})
}

func (h *APIHandlers) GetExecutionTransitions(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.tracker.Workflow(c.Context(), id); err != nil {
		return handleError(c, err)
	}

	transitions, err := h.tracker.Transitions(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"transitions": transitions})
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	st, err := h.controller.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(st)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	st, err := h.controller.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(st)
}

func (h *APIHandlers) AbortExecution(c fiber.Ctx) error {
	st, err := h.controller.Abort(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(st)
}

func (h *APIHandlers) SubmitTriggerData(c fiber.Ctx) error {
	id := c.Params("id")

	var req TriggerDataRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	matched, err := h.controller.SubmitTriggerData(c.Context(), id, req.Data)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(TriggerDataResponse{ExecutionID: id, Matched: matched})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflows.HealthCheck(c.Context())
	registryCheck := fmt.Sprintf("%d apps registered", len(h.registry.Apps()))

	status := "unhealthy"
	message := "Orchestron API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Orchestron API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
