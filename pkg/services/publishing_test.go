package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishing_PublishBumpsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.followUp(t)

	_, err := f.publishing.GetPublishedVersion(ctx, wf.ID)
	require.True(t, persistence.IsWorkflowVersionNotFound(err))

	published, err := f.publishing.PublishWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusPublished, published.Status)
	assert.Equal(t, 1, published.Version)
	require.NotNil(t, published.PublishedAt)

	version, err := f.publishing.GetPublishedVersion(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, version.Version)
	assert.Equal(t, "lead_created", version.TriggerSubtype)
	assert.Equal(t, "unit-1", version.UnitID)
	assert.Len(t, version.Nodes, 4)
	assert.Len(t, version.Connections, 3)

	republished, err := f.publishing.PublishWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, republished.Version)

	first, err := f.publishing.GetVersion(ctx, wf.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
}

func TestPublishing_StampsPublishedAtFromClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.followUp(t)

	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	publishing := services.NewPublishing(f.store, f.registry,
		services.WithPublishingClock(clockwork.NewFakeClockAt(at)))

	published, err := publishing.PublishWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.NotNil(t, published.PublishedAt)
	assert.True(t, published.PublishedAt.Equal(at))

	version, err := publishing.GetPublishedVersion(ctx, wf.ID)
	require.NoError(t, err)
	assert.True(t, version.PublishedAt.Equal(at))
}

func TestPublishing_SnapshotIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.followUp(t)

	_, err := f.publishing.PublishWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	extra := f.addNode(t, wf.ID, models.NodeKindAction, "add_tag", map[string]any{"tag": "late"})

	version, err := f.publishing.GetPublishedVersion(ctx, wf.ID)
	require.NoError(t, err)

	_, found := version.Graph().Node(extra.ID)
	assert.False(t, found, "edits after publish do not leak into the published version")
}

func TestPublishing_RejectsInvalidGraph(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wf := f.createWorkflow(t, "Broken", "")
	trigger := f.addNode(t, wf.ID, models.NodeKindTrigger, "lead_created", nil)
	f.addNode(t, wf.ID, models.NodeKindTrigger, "manual", nil)
	orphan := f.addNode(t, wf.ID, models.NodeKindAction, "add_tag", map[string]any{"tag": "x"})

	_, err := f.publishing.PublishWorkflow(ctx, wf.ID)
	require.ErrorIs(t, err, workflow.ErrValidation)

	var validationErr *workflow.ValidationError
	require.True(t, errors.As(err, &validationErr))

	var unreachable []string

	for _, issue := range validationErr.Issues {
		if issue.Code == workflow.IssueUnreachable {
			unreachable = append(unreachable, issue.NodeID)
		}
	}

	assert.Contains(t, unreachable, orphan.ID)
	assert.NotContains(t, unreachable, trigger.ID)

	stored, err := f.workflows.FetchByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDraft, stored.Status)
	assert.Zero(t, stored.Version)
}

func TestPublishing_MissingWorkflow(t *testing.T) {
	f := newFixture(t)

	_, err := f.publishing.PublishWorkflow(context.Background(), "missing")
	assert.ErrorIs(t, err, services.ErrWorkflowNotFound)
}
