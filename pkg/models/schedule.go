package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// WakeupReason tells why an execution was parked.
type WakeupReason string

const (
	WakeupReasonDelay   WakeupReason = "delay"   // Delay node with a fixed or cron wake time
	WakeupReasonRecheck WakeupReason = "recheck" // Delay node waiting on a predicate
	WakeupReasonRetry   WakeupReason = "retry"   // Backoff before re-attempting a node
)

// WakeupStatus is the lifecycle of a wakeup record.
type WakeupStatus string

const (
	WakeupStatusPending   WakeupStatus = "pending"
	WakeupStatusFired     WakeupStatus = "fired"
	WakeupStatusCancelled WakeupStatus = "cancelled"
)

// Wakeup is the durable record handed to the delay manager when an execution parks.
// It is retained after firing for audit.
type Wakeup struct {
	ID           string       `json:"id"`
	ExecutionID  string       `json:"execution_id"`
	Generation   int          `json:"generation"`
	ResumeNodeID string       `json:"resume_node_id"`
	Reason       WakeupReason `json:"reason"`
	Status       WakeupStatus `json:"status"`
	WakeAt       time.Time    `json:"wake_at"`
	CreatedAt    time.Time    `json:"created_at"`
	FiredAt      *time.Time   `json:"fired_at,omitempty"`
}

// WakeupID derives the stable id of the wakeup for an execution generation,
// so re-scheduling the same park is idempotent.
func WakeupID(executionID string, generation int) string {
	return executionID + "-" + strconv.Itoa(generation)
}

// NewWakeup creates a pending wakeup.
func NewWakeup(executionID string, generation int, resumeNodeID string, reason WakeupReason, wakeAt, now time.Time) *Wakeup {
	return &Wakeup{
		ID:           WakeupID(executionID, generation),
		ExecutionID:  executionID,
		Generation:   generation,
		ResumeNodeID: resumeNodeID,
		Reason:       reason,
		Status:       WakeupStatusPending,
		WakeAt:       wakeAt.UTC(),
		CreatedAt:    now.UTC(),
	}
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates a standard 5-field cron expression (descriptors such as @daily are accepted).
func ParseCron(expression string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	return schedule, nil
}

// NextCronTime returns the first fire time of expression strictly after reference.
func NextCronTime(expression string, reference time.Time) (time.Time, error) {
	schedule, err := ParseCron(expression)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(reference), nil
}
