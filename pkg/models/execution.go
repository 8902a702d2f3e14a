package models

import (
	"time"
)

// ExecutionStatus is the state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {ExecutionStatusRunning, ExecutionStatusCancelled},
	ExecutionStatusRunning: {
		ExecutionStatusRunning,
		ExecutionStatusPaused,
		ExecutionStatusCompleted,
		ExecutionStatusFailed,
		ExecutionStatusCancelled,
	},
	ExecutionStatusPaused: {ExecutionStatusRunning, ExecutionStatusCancelled},
}

// IsTerminal reports whether no further transition is allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// CanTransition reports whether the state machine allows s -> to.
func (s ExecutionStatus) CanTransition(to ExecutionStatus) bool {
	for _, allowed := range executionTransitions[s] {
		if allowed == to {
			return true
		}
	}

	return false
}

// LiveExecutionStatuses lists the non terminal statuses.
func LiveExecutionStatuses() []ExecutionStatus {
	return []ExecutionStatus{ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusPaused}
}

// Lease is a time bounded exclusive claim of an execution by one worker.
type Lease struct {
	ExecutionID string    `json:"execution_id"`
	Owner       string    `json:"owner"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Live reports whether the lease is still valid at now.
func (l Lease) Live(now time.Time) bool {
	return l.Token != "" && now.Before(l.ExpiresAt)
}

// WorkflowExecution is one run of a published workflow version.
type WorkflowExecution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version"`
	UnitID          string          `json:"unit_id"`
	Status          ExecutionStatus `json:"status"`
	CurrentNodeID   string          `json:"current_node_id"`
	Context         Context         `json:"context"`
	TriggerPayload  map[string]any  `json:"trigger_payload"`
	Error           string          `json:"error,omitempty"`
	RetryCount      int             `json:"retry_count"` // Failed attempts on the current node
	StepCount       int             `json:"step_count"`  // Highest committed step_order
	CancelRequested bool            `json:"cancel_requested"`
	Generation      int             `json:"generation"` // Bumped on every park, guards stale wakeups
	WakeAt          *time.Time      `json:"wake_at,omitempty"`
	WaitingSince    *time.Time      `json:"waiting_since,omitempty"` // Start of a predicate wait
	RunnableAt      *time.Time      `json:"runnable_at,omitempty"`
	LeaseOwner      string          `json:"lease_owner,omitempty"`
	LeaseToken      string          `json:"-"`
	LeaseExpiresAt  *time.Time      `json:"lease_expires_at,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Lease returns the lease currently recorded on the execution.
func (e *WorkflowExecution) Lease() Lease {
	lease := Lease{ExecutionID: e.ID, Owner: e.LeaseOwner, Token: e.LeaseToken}
	if e.LeaseExpiresAt != nil {
		lease.ExpiresAt = *e.LeaseExpiresAt
	}

	return lease
}

// HasLiveLease reports whether some worker holds the execution at now.
func (e *WorkflowExecution) HasLiveLease(now time.Time) bool {
	return e.Lease().Live(now)
}

// Runnable reports whether the execution can be claimed at now.
func (e *WorkflowExecution) Runnable(now time.Time) bool {
	return !e.Status.IsTerminal() &&
		e.RunnableAt != nil && !e.RunnableAt.After(now) &&
		!e.HasLiveLease(now)
}

// ExecutionCommit is the unit of work a lease holder persists atomically:
// the execution state, at most one new step and at most one wakeup.
type ExecutionCommit struct {
	Execution *WorkflowExecution
	Step      *ExecutionStep
	Wakeup    *Wakeup
}
