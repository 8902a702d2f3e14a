package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Notifier is told that new work is runnable.
type Notifier interface {
	Notify()
}

// WakeupCanceller retires the pending wakeups of a cancelled execution.
type WakeupCanceller interface {
	Cancel(ctx context.Context, executionID string) error
}

type ExecutionOption func(*Execution)

func WithNotifier(notifier Notifier) ExecutionOption {
	return func(e *Execution) { e.notifier = notifier }
}

func WithWakeupCanceller(wakeups WakeupCanceller) ExecutionOption {
	return func(e *Execution) { e.wakeups = wakeups }
}

func WithClock(clock clockwork.Clock) ExecutionOption {
	return func(e *Execution) { e.clock = clock }
}

// Execution starts, inspects and cancels workflow executions.
type Execution struct {
	persistence persistence.Persistence
	notifier    Notifier
	wakeups     WakeupCanceller
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewExecution(persistence persistence.Persistence, logger *slog.Logger, opts ...ExecutionOption) *Execution {
	e := &Execution{
		persistence: persistence,
		clock:       clockwork.NewRealClock(),
		logger:      logger.With("module", "execution_service"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute starts the latest published version of a workflow with payload.
// It returns ErrWorkflowNotPublished when the workflow has never been published.
func (e *Execution) Execute(ctx context.Context, workflowID string, payload map[string]any) (*models.WorkflowExecution, error) {
	version, err := e.persistence.WorkflowRepository().LatestVersion(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowVersionNotFound(err) {
			return nil, &ServiceError{
				Op:      "Execute",
				Code:    "WORKFLOW_NOT_PUBLISHED",
				Message: fmt.Sprintf("workflow %s has no published version", workflowID),
				Err:     ErrWorkflowNotPublished,
			}
		}

		return nil, err
	}

	unitID, _ := payload["unit_id"].(string)

	return e.Start(ctx, version, payload, unitID)
}

// Start creates a pending execution of version at its trigger node and wakes the scheduler.
func (e *Execution) Start(
	ctx context.Context,
	version *models.WorkflowVersion,
	payload map[string]any,
	unitID string,
) (*models.WorkflowExecution, error) {
	trigger, ok := version.Graph().Trigger()
	if !ok {
		return nil, fmt.Errorf("workflow %s version %d has no trigger", version.WorkflowID, version.Version)
	}

	if payload == nil {
		payload = make(map[string]any)
	}

	if unitID == "" {
		unitID = version.UnitID
	}

	now := e.clock.Now().UTC()
	exec := &models.WorkflowExecution{
		ID:              uuid.New().String(),
		WorkflowID:      version.WorkflowID,
		WorkflowVersion: version.Version,
		UnitID:          unitID,
		Status:          models.ExecutionStatusPending,
		CurrentNodeID:   trigger.ID,
		Context:         models.Context{},
		TriggerPayload:  payload,
		RunnableAt:      &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.persistence.ExecutionRepository().Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution created",
		"execution_id", exec.ID,
		"workflow_id", exec.WorkflowID,
		"workflow_version", exec.WorkflowVersion,
		"trigger", trigger.Subtype,
	)

	if e.notifier != nil {
		e.notifier.Notify()
	}

	return exec, nil
}

// ExecutionDetail is an execution with its audit trail.
type ExecutionDetail struct {
	*models.WorkflowExecution

	Steps   []*models.ExecutionStep `json:"steps"`
	Wakeups []*models.Wakeup        `json:"wakeups"`
}

// Get returns an execution with its steps in step order and its wakeups.
func (e *Execution) Get(ctx context.Context, executionID string) (*ExecutionDetail, error) {
	exec, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	steps, err := e.persistence.StepRepository().ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	wakeups, err := e.persistence.WakeupRepository().ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wakeups: %w", err)
	}

	return &ExecutionDetail{WorkflowExecution: exec, Steps: steps, Wakeups: wakeups}, nil
}

// ListExecutionsRequest pages through the executions of a workflow.
type ListExecutionsRequest struct {
	Limit  int
	Offset int
	Status *models.ExecutionStatus
}

// List returns the executions of a workflow, newest first.
func (e *Execution) List(
	ctx context.Context,
	workflowID string,
	req ListExecutionsRequest,
) (*persistence.ExecutionListResult, error) {
	if req.Status != nil {
		allowed := append(models.LiveExecutionStatuses(),
			models.ExecutionStatusCompleted, models.ExecutionStatusFailed, models.ExecutionStatusCancelled)

		if !slices.Contains(allowed, *req.Status) {
			return nil, NewValidationError("List", "INVALID_STATUS",
				fmt.Sprintf("invalid execution status '%s'", *req.Status), ErrInvalidStatus)
		}
	}

	limit, offset := persistence.NormalizePage(req.Limit, req.Offset)

	result, err := e.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID, persistence.ListExecutionsOptions{
		Status: req.Status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return result, nil
}

// Cancel stops an execution. Idle executions are cancelled at once and their wakeups
// retired; a running one is flagged and stops before its next step.
func (e *Execution) Cancel(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	exec, err := e.persistence.ExecutionRepository().RequestCancel(ctx, executionID, e.clock.Now())
	if err != nil {
		return nil, err
	}

	if exec.Status == models.ExecutionStatusCancelled && e.wakeups != nil {
		if err := e.wakeups.Cancel(ctx, executionID); err != nil {
			e.logger.ErrorContext(ctx, "Failed to cancel wakeups", "execution_id", executionID, "error", err)
		}
	}

	e.logger.InfoContext(ctx, "Execution cancel requested",
		"execution_id", executionID,
		"status", exec.Status,
	)

	return exec, nil
}
