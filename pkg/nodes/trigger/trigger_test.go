package trigger

import (
	"testing"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactories(t *testing.T) {
	seen := make(map[string]string)

	for _, factory := range Factories() {
		assert.Equal(t, models.NodeKindTrigger, factory.Kind())
		assert.NotEmpty(t, factory.Name())
		seen[factory.ID()] = factory.EventType()
	}

	assert.Equal(t, map[string]string{
		"lead_created":        EventLeadCreated,
		"client_created":      EventClientCreated,
		"message_received":    EventMessageReceived,
		"lead_status_changed": EventLeadStatusChanged,
		"manual":              "",
	}, seen)
}

func TestEventTrigger_Accept(t *testing.T) {
	trigger, err := NewLeadCreatedFactory().Create(map[string]any{
		"unit_id": "unit-a",
		"filter":  map[string]any{"field": "lead.source", "operator": "eq", "value": "web"},
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		payload  map[string]any
		expected bool
	}{
		{name: "match", payload: map[string]any{"unit_id": "unit-a", "lead": map[string]any{"source": "web"}}, expected: true},
		{name: "other source", payload: map[string]any{"unit_id": "unit-a", "lead": map[string]any{"source": "ads"}}, expected: false},
		{name: "other unit", payload: map[string]any{"unit_id": "unit-b", "lead": map[string]any{"source": "web"}}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := trigger.Accept(models.NewContext(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}

	open, err := NewManualFactory().Create(nil)
	require.NoError(t, err)

	ok, err := open.Accept(models.Context{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventTrigger_InvalidFilter(t *testing.T) {
	_, err := NewLeadCreatedFactory().Create(map[string]any{
		"filter": map[string]any{"field": "lead.source"},
	})
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)
}
