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

func TestConnection_CreateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.createWorkflow(t, "Welcome", "")

	trigger := f.addNode(t, wf.ID, models.NodeKindTrigger, "lead_created", nil)
	tag := f.addNode(t, wf.ID, models.NodeKindAction, "add_tag", map[string]any{"tag": "new"})

	conn, err := f.connections.CreateConnection(ctx, wf.ID, &services.CreateConnectionRequest{
		SourceNodeID: trigger.ID,
		TargetNodeID: tag.ID,
		Condition:    &models.Predicate{Field: "source", Operator: models.OpEq, Value: "ads"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID)

	conns, err := f.connections.ListConnections(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "ads", conns[0].Condition.Value)

	require.NoError(t, f.connections.DeleteConnection(ctx, wf.ID, conn.ID))

	err = f.connections.DeleteConnection(ctx, wf.ID, conn.ID)
	assert.True(t, persistence.IsConnectionNotFound(err))
}

func TestConnection_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wf := f.createWorkflow(t, "Welcome", "")
	other := f.createWorkflow(t, "Other", "")

	trigger := f.addNode(t, wf.ID, models.NodeKindTrigger, "lead_created", nil)
	foreign := f.addNode(t, other.ID, models.NodeKindAction, "add_tag", map[string]any{"tag": "x"})

	_, err := f.connections.CreateConnection(ctx, wf.ID, &services.CreateConnectionRequest{
		SourceNodeID: trigger.ID,
		TargetNodeID: foreign.ID,
	})
	require.ErrorIs(t, err, services.ErrInvalidConnectionData)

	_, err = f.connections.CreateConnection(ctx, wf.ID, &services.CreateConnectionRequest{
		SourceNodeID: trigger.ID,
		TargetNodeID: trigger.ID,
		Condition:    &models.Predicate{Field: "x", Operator: "between"},
	})
	require.ErrorIs(t, err, services.ErrInvalidConnectionData)

	_, err = f.connections.CreateConnection(ctx, "missing", &services.CreateConnectionRequest{
		SourceNodeID: trigger.ID,
		TargetNodeID: foreign.ID,
	})
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
