package services_test

import (
	"context"
	"testing"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_CreateNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.createWorkflow(t, "Welcome", "")

	node, err := f.nodes.CreateNode(ctx, wf.ID, &services.CreateNodeRequest{
		Kind:           models.NodeKindAction,
		Subtype:        "add_tag",
		Name:           "Tag as hot",
		Config:         map[string]any{"tag": "hot"},
		TimeoutSeconds: 30,
		PositionX:      120,
		PositionY:      40,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, node.ID)
	assert.Equal(t, wf.ID, node.WorkflowID)

	stored, err := f.nodes.GetNode(ctx, wf.ID, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "add_tag", stored.Subtype)
	assert.Equal(t, "hot", stored.Config["tag"])
	assert.Equal(t, 30, stored.TimeoutSeconds)
	assert.Equal(t, 120, stored.PositionX)
}

func TestNode_CreateNodeRejected(t *testing.T) {
	f := newFixture(t)
	wf := f.createWorkflow(t, "Welcome", "")

	tests := []struct {
		name string
		req  services.CreateNodeRequest
	}{
		{
			name: "unknown kind",
			req:  services.CreateNodeRequest{Kind: "loop", Subtype: "forever", Name: "x"},
		},
		{
			name: "unregistered subtype",
			req:  services.CreateNodeRequest{Kind: models.NodeKindAction, Subtype: "launch_rocket", Name: "x"},
		},
		{
			name: "missing required config",
			req:  services.CreateNodeRequest{Kind: models.NodeKindAction, Subtype: "set_status", Name: "x"},
		},
		{
			name: "invalid delay",
			req: services.CreateNodeRequest{
				Kind: models.NodeKindDelay, Subtype: "wait", Name: "x",
				Config: map[string]any{"duration": "soon"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.nodes.CreateNode(context.Background(), wf.ID, &tt.req)
			require.ErrorIs(t, err, services.ErrInvalidNode)
			assert.True(t, services.IsValidationError(err))
		})
	}

	nodes, err := f.store.NodeRepository().GetNodesByWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestNode_CreateNodeMissingWorkflow(t *testing.T) {
	f := newFixture(t)

	_, err := f.nodes.CreateNode(context.Background(), "missing", &services.CreateNodeRequest{
		Kind: models.NodeKindTrigger, Subtype: "manual", Name: "start",
	})
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestNode_UpdateNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.createWorkflow(t, "Welcome", "")
	node := f.addNode(t, wf.ID, models.NodeKindDelay, "wait", map[string]any{"duration": "10m"})

	updated, err := f.nodes.UpdateNode(ctx, wf.ID, node.ID, &services.UpdateNodeRequest{
		Name:   "Wait a day",
		Config: map[string]any{"duration": "24h"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Wait a day", updated.Name)
	assert.Equal(t, models.NodeKindDelay, updated.Kind)

	_, err = f.nodes.UpdateNode(ctx, wf.ID, node.ID, &services.UpdateNodeRequest{
		Name:   "Broken",
		Config: map[string]any{"duration": "tomorrow"},
	})
	require.ErrorIs(t, err, services.ErrInvalidNode)

	stored, err := f.nodes.GetNode(ctx, wf.ID, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "24h", stored.Config["duration"])

	_, err = f.nodes.UpdateNode(ctx, wf.ID, "missing", &services.UpdateNodeRequest{Name: "x"})
	assert.True(t, persistence.IsNodeNotFound(err))
}

func TestNode_DeleteNodeCascadesConnections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.followUp(t)

	stored, err := f.workflows.FetchByID(ctx, wf.ID)
	require.NoError(t, err)

	replied, ok := stored.Graph().Node(stored.Connections[0].TargetNodeID)
	require.True(t, ok)

	require.NoError(t, f.nodes.DeleteNode(ctx, wf.ID, replied.ID))

	conns, err := f.connections.ListConnections(ctx, wf.ID)
	require.NoError(t, err)
	assert.Empty(t, conns, "every edge touched the condition node")

	err = f.nodes.DeleteNode(ctx, wf.ID, replied.ID)
	assert.True(t, persistence.IsNodeNotFound(err))
}
