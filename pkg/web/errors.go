package web

import (
	"errors"

	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// validationProblem is a 422 problem listing every graph issue.
type validationProblem struct {
	*problems.DefaultProblem

	Issues []workflow.Issue `json:"issues"`
}

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

// handleServiceError maps the service and persistence error taxonomy to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var graphErr *workflow.ValidationError
	if errors.As(err, &graphErr) {
		p := problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
			WithInstance(c.Path()).
			WithType("invalid_workflow").
			WithDetail(graphErr.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(validationProblem{
			DefaultProblem: p,
			Issues:         graphErr.Issues,
		})
	}

	var serviceErr *services.ServiceError

	switch {
	case services.IsValidationError(err):
		if errors.As(err, &serviceErr) {
			return problem(c, fiber.StatusBadRequest, "validation_error", serviceErr.Message)
		}

		return badRequest(c, err.Error())

	case errors.Is(err, persistence.ErrInvalidID):
		return badRequest(c, err.Error())

	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case persistence.IsIntegrityError(err):
		return problem(c, fiber.StatusConflict, "integrity_violation", err.Error())

	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")

	case persistence.IsWorkflowVersionNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_version_not_found", "workflow version not found")

	case persistence.IsNodeNotFound(err):
		return problem(c, fiber.StatusNotFound, "node_not_found", "node not found")

	case persistence.IsConnectionNotFound(err):
		return problem(c, fiber.StatusNotFound, "connection_not_found", "connection not found")

	case persistence.IsExecutionNotFound(err):
		return problem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")

	default:
		return internalError(c, err)
	}
}
