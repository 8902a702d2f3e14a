package events

import (
	"testing"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestLifecycleEventType(t *testing.T) {
	tests := []struct {
		status   models.ExecutionStatus
		resumed  bool
		expected EventType
		ok       bool
	}{
		{status: models.ExecutionStatusRunning, expected: ExecutionStartedEvent, ok: true},
		{status: models.ExecutionStatusRunning, resumed: true, expected: ExecutionResumedEvent, ok: true},
		{status: models.ExecutionStatusPaused, expected: ExecutionPausedEvent, ok: true},
		{status: models.ExecutionStatusCompleted, expected: ExecutionCompletedEvent, ok: true},
		{status: models.ExecutionStatusFailed, expected: ExecutionFailedEvent, ok: true},
		{status: models.ExecutionStatusCancelled, expected: ExecutionCancelledEvent, ok: true},
		{status: models.ExecutionStatusPending},
	}

	for _, tt := range tests {
		got, ok := LifecycleEventType(tt.status, tt.resumed)
		assert.Equal(t, tt.ok, ok, tt.status)
		assert.Equal(t, tt.expected, got, tt.status)
	}
}

func TestDomainEvent_TriggerPayload(t *testing.T) {
	event := DomainEvent{
		ID:       "evt-1",
		Type:     "lead.created",
		UnitID:   "unit-a",
		EntityID: "L1",
		Payload:  map[string]any{"lead_id": "L1", "unit_id": "override"},
	}

	payload := event.TriggerPayload()

	assert.Equal(t, "L1", payload["lead_id"])
	assert.Equal(t, "override", payload["unit_id"], "payload keys win")
	assert.Equal(t, "lead.created", payload["event_type"])
	assert.Equal(t, "L1", payload["entity_id"])
	assert.NotContains(t, event.Payload, "event_id", "source payload untouched")

	assert.Equal(t, DomainEventType, event.GetType())
	assert.Equal(t, DomainTopic, TopicFor(event.GetType()))
	assert.Equal(t, Topic, TopicFor(StepRecordedEvent))
}

func TestNew(t *testing.T) {
	event, ok := New(ExecutionPausedEvent)
	assert.True(t, ok)
	assert.IsType(t, &ExecutionLifecycle{}, event)

	event, ok = New(DomainEventType)
	assert.True(t, ok)
	assert.IsType(t, &DomainEvent{}, event)

	_, ok = New("workflow.triggered")
	assert.False(t, ok)
}
