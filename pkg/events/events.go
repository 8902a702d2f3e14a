// Package events defines the execution lifecycle notifications and the CRM domain events
// that start executions.
package events

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

type EventType string

// Topics.
const (
	Topic       = "crmflow.executions" // Execution lifecycle events published by workers
	DomainTopic = "crmflow.crm_events" // Domain events published by the CRM core
)

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	StepRecordedEvent       EventType = "step.recorded"

	// DomainEventType tags every CRM domain event. The CRM event name is DomainEvent.Type.
	DomainEventType EventType = "crm.domain_event"
)

// TopicFor returns the topic an event type travels on.
func TopicFor(eventType EventType) string {
	if eventType == DomainEventType {
		return DomainTopic
	}

	return Topic
}

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
	WorkerID    string    `json:"worker_id,omitempty"`
}

// ExecutionLifecycle is published on every execution status change.
type ExecutionLifecycle struct {
	BaseEvent

	WorkflowVersion int                    `json:"workflow_version"`
	UnitID          string                 `json:"unit_id,omitempty"`
	Status          models.ExecutionStatus `json:"status"`
	NodeID          string                 `json:"node_id,omitempty"`
	Error           string                 `json:"error,omitempty"`
	WakeAt          *time.Time             `json:"wake_at,omitempty"`
}

func (e ExecutionLifecycle) GetType() EventType {
	return e.Type
}

// LifecycleEventType maps an execution status to the event announcing it.
// The second result is false for statuses without an event.
func LifecycleEventType(status models.ExecutionStatus, resumed bool) (EventType, bool) {
	switch status {
	case models.ExecutionStatusRunning:
		if resumed {
			return ExecutionResumedEvent, true
		}

		return ExecutionStartedEvent, true
	case models.ExecutionStatusPaused:
		return ExecutionPausedEvent, true
	case models.ExecutionStatusCompleted:
		return ExecutionCompletedEvent, true
	case models.ExecutionStatusFailed:
		return ExecutionFailedEvent, true
	case models.ExecutionStatusCancelled:
		return ExecutionCancelledEvent, true
	default:
		return "", false
	}
}

// StepRecorded is published after a step is committed.
type StepRecorded struct {
	BaseEvent

	StepOrder int               `json:"step_order"`
	NodeID    string            `json:"node_id"`
	NodeKind  models.NodeKind   `json:"node_kind"`
	Subtype   string            `json:"subtype"`
	Attempt   int               `json:"attempt"`
	Status    models.StepStatus `json:"status"`
	Handle    string            `json:"handle,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (e StepRecorded) GetType() EventType {
	return StepRecordedEvent
}

// DomainEvent is a business event of the CRM core, e.g. a lead was created.
type DomainEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"` // e.g. lead.created
	UnitID     string         `json:"unit_id"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (e DomainEvent) GetType() EventType {
	return DomainEventType
}

// TriggerPayload is the execution payload of the event: its payload plus the event
// identity under well known keys, unless the payload already sets them.
func (e DomainEvent) TriggerPayload() map[string]any {
	payload := make(map[string]any, len(e.Payload)+4)
	for k, v := range e.Payload {
		payload[k] = v
	}

	defaults := map[string]any{
		"event_id":   e.ID,
		"event_type": e.Type,
		"unit_id":    e.UnitID,
		"entity_id":  e.EntityID,
	}

	for k, v := range defaults {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}

	return payload
}

// New returns an empty event of the given type to decode into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case ExecutionStartedEvent, ExecutionPausedEvent, ExecutionResumedEvent,
		ExecutionCompletedEvent, ExecutionFailedEvent, ExecutionCancelledEvent:
		return &ExecutionLifecycle{}, true
	case StepRecordedEvent:
		return &StepRecorded{}, true
	case DomainEventType:
		return &DomainEvent{}, true
	default:
		return nil, false
	}
}
