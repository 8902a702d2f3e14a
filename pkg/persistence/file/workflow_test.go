package file

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWorkflow(t *testing.T, p *Persistence, id, unit string) *models.Workflow {
	t.Helper()

	ctx := context.Background()
	workflow := &models.Workflow{
		ID:     id,
		Name:   "Workflow " + id,
		UnitID: unit,
		Status: models.WorkflowStatusDraft,
	}

	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	require.NoError(t, p.NodeRepository().SaveNode(ctx, id, &models.WorkflowNode{
		ID: "trigger", Kind: models.NodeKindTrigger, Subtype: "lead_created", Name: "Lead created",
	}))
	require.NoError(t, p.NodeRepository().SaveNode(ctx, id, &models.WorkflowNode{
		ID: "action", Kind: models.NodeKindAction, Subtype: "set_status", Name: "Set status",
		Config: map[string]any{"status": "contacted"},
	}))
	require.NoError(t, p.ConnectionRepository().SaveConnection(ctx, id, &models.Connection{
		ID: "c1", SourceNodeID: "trigger", TargetNodeID: "action",
	}))

	return workflow
}

func TestWorkflowRepository_SaveKeepsGraph(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	seedWorkflow(t, p, "wf-1", "unit-a")

	workflow, err := p.WorkflowRepository().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, workflow.Nodes, 2)
	require.Len(t, workflow.Connections, 1)
	assert.Equal(t, "wf-1", workflow.Nodes[0].WorkflowID)

	workflow.Name = "Renamed"
	workflow.Nodes = nil
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	reloaded, err := p.WorkflowRepository().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Name)
	assert.Len(t, reloaded.Nodes, 2)
}

func TestWorkflowRepository_GetByIDNotFound(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.WorkflowRepository().GetByID(context.Background(), "missing")
	require.True(t, persistence.IsWorkflowNotFound(err))

	_, err = p.WorkflowRepository().GetByID(context.Background(), "../etc/passwd")
	require.ErrorIs(t, err, persistence.ErrInvalidID)
}

func TestWorkflowRepository_ListScopedByUnit(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		seedWorkflow(t, p, id, "unit-a")
	}

	seedWorkflow(t, p, "b1", "unit-b")

	page, err := p.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{
		UnitID: "unit-a", Limit: 2, SortBy: "name", SortOrder: "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Workflows, 2)
	assert.Equal(t, "a1", page.Workflows[0].ID)

	next, err := p.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{
		UnitID: "unit-a", Limit: 2, Offset: 2, SortBy: "name", SortOrder: "asc",
	})
	require.NoError(t, err)
	require.Len(t, next.Workflows, 1)
	assert.False(t, next.HasNextPage)

	_, err = p.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{SortBy: "owner"})
	require.Error(t, err)
}

func TestNodeRepository_DeleteCascadesConnections(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	seedWorkflow(t, p, "wf-1", "")

	require.NoError(t, p.NodeRepository().DeleteNode(ctx, "wf-1", "action"))

	connections, err := p.ConnectionRepository().GetConnectionsByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, connections)

	err = p.NodeRepository().DeleteNode(ctx, "wf-1", "action")
	assert.True(t, persistence.IsNodeNotFound(err))

	err = p.NodeRepository().UpdateNode(ctx, "wf-1", &models.WorkflowNode{ID: "ghost"})
	assert.True(t, persistence.IsNodeNotFound(err))
}

func TestConnectionRepository_RejectsForeignEndpoints(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	seedWorkflow(t, p, "wf-1", "")
	seedWorkflow(t, p, "wf-2", "")

	err := p.ConnectionRepository().SaveConnection(ctx, "wf-1", &models.Connection{
		ID: "bad", SourceNodeID: "trigger", TargetNodeID: "elsewhere",
	})
	require.ErrorIs(t, err, persistence.ErrInvalidConnection)

	_, err = p.ConnectionRepository().GetConnection(ctx, "wf-1", "bad")
	assert.True(t, persistence.IsConnectionNotFound(err))
}

func TestWorkflowRepository_PublishAndVersions(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	workflow := seedWorkflow(t, p, "wf-1", "unit-a")
	seedWorkflow(t, p, "wf-2", "unit-b")

	_, err := p.WorkflowRepository().LatestVersion(ctx, workflow.ID)
	require.True(t, persistence.IsWorkflowVersionNotFound(err))

	stored, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)

	for version := 1; version <= 2; version++ {
		require.NoError(t, p.WorkflowRepository().Publish(ctx, &models.WorkflowVersion{
			WorkflowID:     workflow.ID,
			Version:        version,
			UnitID:         "unit-a",
			TriggerSubtype: "lead_created",
			Nodes:          stored.Nodes,
			Connections:    stored.Connections,
			PublishedAt:    time.Now().UTC(),
		}))
	}

	latest, err := p.WorkflowRepository().LatestVersion(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	first, err := p.WorkflowRepository().GetVersion(ctx, workflow.ID, 1)
	require.NoError(t, err)
	assert.Len(t, first.Nodes, 2)

	reloaded, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPublished, reloaded.Status)
	assert.NotNil(t, reloaded.PublishedAt)

	matches, err := p.WorkflowRepository().PublishedByTrigger(ctx, "lead_created", "unit-a")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "wf-1", matches[0].WorkflowID)

	none, err := p.WorkflowRepository().PublishedByTrigger(ctx, "lead_created", "unit-b")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWorkflowRepository_DeleteBlockedByLiveExecutions(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	seedWorkflow(t, p, "wf-1", "")

	now := time.Now().UTC()
	require.NoError(t, p.ExecutionRepository().Create(ctx, &models.WorkflowExecution{
		ID: "exec-1", WorkflowID: "wf-1", Status: models.ExecutionStatusPaused, CreatedAt: now,
	}))

	err := p.WorkflowRepository().Delete(ctx, "wf-1")
	require.True(t, persistence.IsIntegrityError(err))
	require.ErrorIs(t, err, persistence.ErrLiveExecutions)

	_, err = p.ExecutionRepository().RequestCancel(ctx, "exec-1", now)
	require.NoError(t, err)

	require.NoError(t, p.WorkflowRepository().Delete(ctx, "wf-1"))

	_, err = p.WorkflowRepository().GetByID(ctx, "wf-1")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
