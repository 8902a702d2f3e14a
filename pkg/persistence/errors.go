// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowVersionNotFound indicates no published version exists for the workflow.
	ErrWorkflowVersionNotFound = errors.New("workflow version not found")

	// ErrNodeNotFound indicates a node was not found by the given identifier.
	ErrNodeNotFound = errors.New("node not found")

	// ErrConnectionNotFound indicates a connection was not found by the given identifier.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrInvalidConnection indicates a connection references a node outside its workflow.
	ErrInvalidConnection = errors.New("connection endpoints must belong to the workflow")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrLeaseLost indicates the caller no longer holds the execution lease.
	ErrLeaseLost = errors.New("execution lease lost")

	// ErrDuplicateStep indicates a step with the same (execution_id, step_order) already exists.
	ErrDuplicateStep = errors.New("duplicate execution step")

	// ErrIllegalTransition indicates a status change the execution state machine forbids.
	ErrIllegalTransition = errors.New("illegal execution status transition")

	// ErrLiveExecutions indicates a workflow still has non terminal executions.
	ErrLiveExecutions = errors.New("workflow has live executions")

	// ErrInvalidID indicates an identifier that cannot be used as a storage key.
	ErrInvalidID = errors.New("invalid identifier")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	WorkflowID string // Workflow ID if applicable
	Err        error  // Underlying error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// NodeError wraps node-related errors with additional context.
type NodeError struct {
	Op         string // Operation being performed
	WorkflowID string // Workflow ID
	NodeID     string // Node ID
	Err        error  // Underlying error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s operation failed for node %s in workflow %s: %v", e.Op, e.NodeID, e.WorkflowID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func (e *NodeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ConnectionError wraps connection-related errors with additional context.
type ConnectionError struct {
	Op           string // Operation being performed
	WorkflowID   string // Workflow ID
	ConnectionID string // Connection ID
	Err          error  // Underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s operation failed for connection %s in workflow %s: %v", e.Op, e.ConnectionID, e.WorkflowID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed
	ExecutionID string // Execution ID
	Err         error  // Underlying error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// IntegrityError reports a write refused to keep stored state consistent.
type IntegrityError struct {
	Op     string // Operation being performed
	Entity string // Entity the rule protects
	ID     string // Entity ID
	Err    error  // Violated rule
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s refused for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

func (e *IntegrityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsWorkflowVersionNotFound checks if an error indicates no published version exists.
func IsWorkflowVersionNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowVersionNotFound)
}

// IsNodeNotFound checks if an error indicates a node was not found.
func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

// IsConnectionNotFound checks if an error indicates a connection was not found.
func IsConnectionNotFound(err error) bool {
	return errors.Is(err, ErrConnectionNotFound)
}

// IsInvalidConnection checks if an error indicates a connection endpoint outside its workflow.
func IsInvalidConnection(err error) bool {
	return errors.Is(err, ErrInvalidConnection)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsLeaseLost checks if an error indicates the lease is no longer held.
func IsLeaseLost(err error) bool {
	return errors.Is(err, ErrLeaseLost)
}

// IsIntegrityError checks if an error is a refused write.
func IsIntegrityError(err error) bool {
	var integrityErr *IntegrityError

	return errors.As(err, &integrityErr) ||
		errors.Is(err, ErrInvalidConnection) ||
		errors.Is(err, ErrLiveExecutions) ||
		errors.Is(err, ErrDuplicateStep) ||
		errors.Is(err, ErrIllegalTransition)
}
