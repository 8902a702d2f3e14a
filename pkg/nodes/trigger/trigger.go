// Package trigger provides the entry nodes started by CRM domain events.
package trigger

import (
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
)

// Domain event types emitted by the CRM core.
const (
	EventLeadCreated       = "lead.created"
	EventClientCreated     = "client.created"
	EventMessageReceived   = "message.received"
	EventLeadStatusChanged = "lead.status_changed"
)

type Config struct {
	// UnitID narrows the trigger to events of one unit
	UnitID string            `json:"unit_id"`
	Filter *models.Predicate `json:"filter"`
}

// EventTrigger filters the payload of the event that started the execution.
type EventTrigger struct {
	unitID string
	filter *models.Predicate
}

func (t *EventTrigger) Accept(payload models.Context) (bool, error) {
	if t.unitID != "" {
		unit, _ := payload.String("unit_id")
		if unit != t.unitID {
			return false, nil
		}
	}

	if t.filter == nil {
		return true, nil
	}

	return t.filter.Evaluate(payload)
}

// Factory builds an event trigger for one subtype.
type Factory struct {
	subtype     string
	eventType   string
	name        string
	description string
}

func (f *Factory) ID() string            { return f.subtype }
func (f *Factory) Kind() models.NodeKind { return models.NodeKindTrigger }
func (f *Factory) Name() string          { return f.name }
func (f *Factory) Description() string   { return f.description }
func (f *Factory) EventType() string     { return f.eventType }

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"unit_id": map[string]any{
				"type":        "string",
				"description": "Only start for events of this unit",
			},
			"filter": map[string]any{
				"type":        "object",
				"description": "Predicate over the event payload. The execution completes right away when it does not hold.",
			},
		},
		"additionalProperties": false,
	}
}

func (f *Factory) Create(config map[string]any) (protocol.Trigger, error) {
	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Filter != nil {
		if err := cfg.Filter.Validate(); err != nil {
			return nil, fmt.Errorf("%w: filter: %w", protocol.ErrInvalidConfig, err)
		}
	}

	return &EventTrigger{unitID: cfg.UnitID, filter: cfg.Filter}, nil
}

func NewLeadCreatedFactory() *Factory {
	return &Factory{
		subtype:     "lead_created",
		eventType:   EventLeadCreated,
		name:        "Lead created",
		description: "Starts when a new lead enters the CRM",
	}
}

func NewClientCreatedFactory() *Factory {
	return &Factory{
		subtype:     "client_created",
		eventType:   EventClientCreated,
		name:        "Client created",
		description: "Starts when a lead is converted or a client is registered",
	}
}

func NewMessageReceivedFactory() *Factory {
	return &Factory{
		subtype:     "message_received",
		eventType:   EventMessageReceived,
		name:        "Message received",
		description: "Starts when a contact sends an inbound message",
	}
}

func NewLeadStatusChangedFactory() *Factory {
	return &Factory{
		subtype:     "lead_status_changed",
		eventType:   EventLeadStatusChanged,
		name:        "Lead status changed",
		description: "Starts when a lead moves to another pipeline status",
	}
}

// NewManualFactory builds the trigger for executions started through the API only.
func NewManualFactory() *Factory {
	return &Factory{
		subtype:     "manual",
		name:        "Manual",
		description: "Starts only when executed explicitly through the API",
	}
}

// Factories returns every built-in trigger factory.
func Factories() []*Factory {
	return []*Factory{
		NewLeadCreatedFactory(),
		NewClientCreatedFactory(),
		NewMessageReceivedFactory(),
		NewLeadStatusChangedFactory(),
		NewManualFactory(),
	}
}
