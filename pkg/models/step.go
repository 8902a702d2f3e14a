package models

import "time"

// StepStatus is the outcome of one node visit.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusRetrying  StepStatus = "retrying" // Failed attempt that will be retried
	StepStatusFailed    StepStatus = "failed"
	StepStatusCancelled StepStatus = "cancelled"
)

// ExecutionStep records a single node visit. Retried attempts get their own step.
type ExecutionStep struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	NodeKind    NodeKind       `json:"node_kind"`
	Subtype     string         `json:"subtype"`
	StepOrder   int            `json:"step_order"`
	Attempt     int            `json:"attempt"`
	Status      StepStatus     `json:"status"`
	Handle      string         `json:"handle,omitempty"` // Source handle chosen by a condition
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}
