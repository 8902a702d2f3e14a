// Package activator starts workflow executions from CRM domain events.
package activator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

var ErrUnexpectedEvent = errors.New("unexpected event payload")

// TriggerIndex maps a domain event type to the trigger subtypes it fires.
type TriggerIndex interface {
	TriggerSubtypes(eventType string) []string
}

// Starter creates a pending execution of a published version.
type Starter interface {
	Start(ctx context.Context, version *models.WorkflowVersion, payload map[string]any, unitID string) (*models.WorkflowExecution, error)
}

// Activator consumes domain events and starts every published workflow whose trigger matches.
type Activator struct {
	id         string
	subscriber eventbus.EventSubscriber
	workflows  persistence.WorkflowRepository
	triggers   TriggerIndex
	starter    Starter
	logger     *slog.Logger
}

func NewActivator(
	id string,
	subscriber eventbus.EventSubscriber,
	workflows persistence.WorkflowRepository,
	triggers TriggerIndex,
	starter Starter,
	logger *slog.Logger,
) *Activator {
	return &Activator{
		id:         id,
		subscriber: subscriber,
		workflows:  workflows,
		triggers:   triggers,
		starter:    starter,
		logger:     logger.With("module", "activator", "activator_id", id),
	}
}

// Start registers the domain event handler and subscribes. Consumption runs in the
// background until ctx is done.
func (a *Activator) Start(ctx context.Context) error {
	a.logger.InfoContext(ctx, "Setting up domain event subscription")

	err := a.subscriber.Handle(events.DomainEventType, func(ctx context.Context, event any) error {
		domainEvent, ok := event.(*events.DomainEvent)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedEvent, event)
		}

		_, err := a.HandleEvent(ctx, domainEvent)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to register domain event handler: %w", err)
	}

	if err := a.subscriber.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to domain events: %w", err)
	}

	a.logger.InfoContext(ctx, "Subscribed to domain events")

	return nil
}

// HandleEvent starts the matching workflows of one event and returns the executions created.
// Every lookup runs before the first start, so a failed lookup starts nothing and the bus
// can redeliver the event safely. A failed start is logged and skipped so the other
// workflows still run.
func (a *Activator) HandleEvent(ctx context.Context, event *events.DomainEvent) ([]*models.WorkflowExecution, error) {
	logger := a.logger.With(
		"event_id", event.ID,
		"event_type", event.Type,
		"unit_id", event.UnitID,
		"entity_id", event.EntityID,
	)

	subtypes := a.triggers.TriggerSubtypes(event.Type)
	if len(subtypes) == 0 {
		logger.DebugContext(ctx, "No trigger listens to event type")

		return nil, nil
	}

	var matched []*models.WorkflowVersion

	for _, subtype := range subtypes {
		versions, err := a.workflows.PublishedByTrigger(ctx, subtype, event.UnitID)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to find published workflows", "trigger", subtype, "error", err)

			return nil, err
		}

		matched = append(matched, versions...)
	}

	payload := event.TriggerPayload()
	started := make([]*models.WorkflowExecution, 0, len(matched))

	for _, version := range matched {
		exec, err := a.starter.Start(ctx, version, payload, event.UnitID)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to start workflow",
				"workflow_id", version.WorkflowID,
				"workflow_version", version.Version,
				"error", err)

			continue
		}

		started = append(started, exec)
	}

	logger.InfoContext(ctx, "Processed domain event", "executions", len(started))

	return started, nil
}
