package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
	"github.com/nexocrm/flowd/pkg/services"
)

type APIHandlers struct {
	definitionService *services.Definition
	executionService  *services.Execution
	validator         *validator.Validate
}

func NewAPIHandlers(
	definitionService *services.Definition,
	executionService *services.Execution,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		definitionService: definitionService,
		executionService:  executionService,
		validator:         validator,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	opts := persistence.ListDefinitionsOptions{
		OrganizationID: c.Query("organization_id"),
		Name:           c.Query("name"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		opts.Status = &status
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "invalid limit: "+err.Error())
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return badRequest(c, "invalid offset: "+err.Error())
		}

		opts.Offset = offset
	}

	definitions, err := h.definitionService.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows": definitions,
		"count":     len(definitions),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "workflow ID is required")
	}

	definition, err := h.definitionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition := &models.WorkflowDefinition{
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		Steps:          req.Steps,
	}

	created, err := h.definitionService.CreateDraft(c.Context(), definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.definitionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Steps != nil {
		existing.Steps = req.Steps
	}

	updated, err := h.definitionService.UpdateDraft(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) PublishWorkflow(c fiber.Ctx) error {
	published, err := h.definitionService.Publish(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) CreateWorkflowVersion(c fiber.Ctx) error {
	draft, err := h.definitionService.NewVersion(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(draft)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	err := h.definitionService.Archive(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.executionService.Start(c.Context(), services.StartRequest{
		DefinitionID: req.DefinitionID,
		TriggeredBy:  models.TriggerSource(req.TriggeredBy),
		Input:        req.Input,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	var req CancelExecutionRequest
	// An empty body is a valid cancel request.
	_ = c.Bind().JSON(&req)

	err := h.executionService.Cancel(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	req := services.ListRequest{
		DefinitionID: c.Params("id"),
		TriggeredBy:  c.Query("triggered_by"),
		Cursor:       c.Query("cursor"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		req.Statuses = strings.Split(statusStr, ",")
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "invalid limit: "+err.Error())
		}

		req.Limit = limit
	}

	if fromStr := c.Query("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return badRequest(c, "invalid 'from' timestamp: "+err.Error())
		}

		req.From = &from
	}

	if toStr := c.Query("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return badRequest(c, "invalid 'to' timestamp: "+err.Error())
		}

		req.To = &to
	}

	page, err := h.executionService.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionListResponse{
		Executions:     page.Executions,
		IsDone:         page.IsDone,
		ContinueCursor: page.ContinueCursor,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.definitionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "flowd API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "flowd API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
