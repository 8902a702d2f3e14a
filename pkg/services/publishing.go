package services

import (
	"context"
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
)

type PublishingOption func(*Publishing)

// WithPublishingClock sets the clock stamping published_at.
func WithPublishingClock(clock clockwork.Clock) PublishingOption {
	return func(p *Publishing) { p.clock = clock }
}

// Publishing validates workflow graphs and snapshots them into immutable versions.
type Publishing struct {
	persistence persistence.Persistence
	validator   ConfigValidator
	clock       clockwork.Clock
}

// NewPublishing creates a new workflow publishing service.
func NewPublishing(persistence persistence.Persistence, validator ConfigValidator, opts ...PublishingOption) *Publishing {
	p := &Publishing{
		persistence: persistence,
		validator:   validator,
		clock:       clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PublishWorkflow validates the current graph and stores it as the next version.
// A graph that fails validation returns a *workflow.ValidationError listing every issue.
func (p *Publishing) PublishWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	current, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	graph := current.Graph()

	if err := workflow.Validate(graph, p.validator); err != nil {
		return nil, err
	}

	trigger, _ := graph.Trigger()

	snapshot := &models.WorkflowVersion{
		WorkflowID:     current.ID,
		Version:        current.Version + 1,
		UnitID:         current.UnitID,
		TriggerSubtype: trigger.Subtype,
		Nodes:          current.Nodes,
		Connections:    current.Connections,
		PublishedAt:    p.clock.Now().UTC(),
	}

	if err := p.persistence.WorkflowRepository().Publish(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to publish workflow: %w", err)
	}

	return p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
}

// GetPublishedVersion returns the snapshot new executions of the workflow run against.
func (p *Publishing) GetPublishedVersion(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	return p.persistence.WorkflowRepository().LatestVersion(ctx, workflowID)
}

// GetVersion returns one published snapshot.
func (p *Publishing) GetVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowVersion, error) {
	return p.persistence.WorkflowRepository().GetVersion(ctx, workflowID, version)
}
