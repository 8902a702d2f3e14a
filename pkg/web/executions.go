package web

import (
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/gofiber/fiber/v3"
)

// ExecuteWorkflow starts the latest published version. The execution runs asynchronously.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	exec, err := h.executionService.Execute(c.Context(), c.Params("id"), req.TriggerPayload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecuteWorkflowResponse{
		ExecutionID:     exec.ID,
		WorkflowID:      exec.WorkflowID,
		WorkflowVersion: exec.WorkflowVersion,
		Status:          exec.Status,
	})
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	limit, offset, err := parsePage(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	req := services.ListExecutionsRequest{Limit: limit, Offset: offset}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ExecutionStatus(statusStr)
		req.Status = &status
	}

	workflowID := c.Params("id")

	if _, err := h.workflowService.FetchByID(c.Context(), workflowID); err != nil {
		return handleServiceError(c, err)
	}

	result, err := h.executionService.List(c.Context(), workflowID, req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":    result.Executions,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  limit,
			"offset": offset,
		},
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	detail, err := h.executionService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	exec, err := h.executionService.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(exec)
}
