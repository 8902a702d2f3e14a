package services_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/crmflow/pkg/collaborators"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.DiscardHandler)

type fixture struct {
	store       persistence.Persistence
	registry    *registry.Registry
	workflows   *services.Workflow
	nodes       *services.Node
	connections *services.Connection
	publishing  *services.Publishing
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg, err := registry.NewDefault(testLogger, collaborators.NewSet(collaborators.NewRecorder()))
	require.NoError(t, err)

	store := file.NewPersistence(t.TempDir())

	return &fixture{
		store:       store,
		registry:    reg,
		workflows:   services.NewWorkflow(store),
		nodes:       services.NewNode(store, reg),
		connections: services.NewConnection(store),
		publishing:  services.NewPublishing(store, reg),
	}
}

func (f *fixture) createWorkflow(t *testing.T, name, unitID string) *models.Workflow {
	t.Helper()

	created, err := f.workflows.Create(context.Background(), &models.Workflow{Name: name, UnitID: unitID})
	require.NoError(t, err)

	return created
}

func (f *fixture) addNode(t *testing.T, workflowID string, kind models.NodeKind, subtype string, config map[string]any) *models.WorkflowNode {
	t.Helper()

	node, err := f.nodes.CreateNode(context.Background(), workflowID, &services.CreateNodeRequest{
		Kind:    kind,
		Subtype: subtype,
		Name:    subtype,
		Config:  config,
	})
	require.NoError(t, err)

	return node
}

func (f *fixture) connect(t *testing.T, workflowID, source, target, handle string) *models.Connection {
	t.Helper()

	conn, err := f.connections.CreateConnection(context.Background(), workflowID, &services.CreateConnectionRequest{
		SourceNodeID: source,
		TargetNodeID: target,
		SourceHandle: handle,
	})
	require.NoError(t, err)

	return conn
}

// followUp builds lead_created -> has_replied -> (true) set_status won / (false) send_message.
func (f *fixture) followUp(t *testing.T) *models.Workflow {
	t.Helper()

	wf := f.createWorkflow(t, "Lead follow up", "unit-1")

	trigger := f.addNode(t, wf.ID, models.NodeKindTrigger, "lead_created", nil)
	replied := f.addNode(t, wf.ID, models.NodeKindCondition, "has_replied", nil)
	won := f.addNode(t, wf.ID, models.NodeKindAction, "set_status", map[string]any{"status": "won"})
	nudge := f.addNode(t, wf.ID, models.NodeKindAction, "send_message", map[string]any{"text": "Hi {{.name}}"})

	f.connect(t, wf.ID, trigger.ID, replied.ID, "")
	f.connect(t, wf.ID, replied.ID, won.ID, models.HandleTrue)
	f.connect(t, wf.ID, replied.ID, nudge.ID, models.HandleFalse)

	return wf
}
