package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/collaborators"
	"github.com/dukex/crmflow/pkg/config"
	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.DiscardHandler)

// buildWorkflow stores lead_created -> set_status qualified and optionally publishes it.
func buildWorkflow(t *testing.T, store persistence.Persistence, reg *registry.Registry, publish bool) *models.Workflow {
	t.Helper()

	ctx := context.Background()

	wf, err := services.NewWorkflow(store).Create(ctx, &models.Workflow{Name: "Qualify new leads"})
	require.NoError(t, err)

	nodes := services.NewNode(store, reg)

	trigger, err := nodes.CreateNode(ctx, wf.ID, &services.CreateNodeRequest{
		Kind: models.NodeKindTrigger, Subtype: "lead_created", Name: "New lead",
	})
	require.NoError(t, err)

	qualify, err := nodes.CreateNode(ctx, wf.ID, &services.CreateNodeRequest{
		Kind: models.NodeKindAction, Subtype: "set_status", Name: "Qualify",
		Config: map[string]any{"status": "qualified"},
	})
	require.NoError(t, err)

	_, err = services.NewConnection(store).CreateConnection(ctx, wf.ID, &services.CreateConnectionRequest{
		SourceNodeID: trigger.ID,
		TargetNodeID: qualify.ID,
	})
	require.NoError(t, err)

	if publish {
		wf, err = services.NewPublishing(store, reg).PublishWorkflow(ctx, wf.ID)
		require.NoError(t, err)
	}

	return wf
}

func TestWorkerManager_RunsWorkflowOnDomainEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := collaborators.NewRecorder()

	reg, err := registry.NewDefault(testLogger, collaborators.NewSet(recorder))
	require.NoError(t, err)

	store := file.NewPersistence(t.TempDir())
	wf := buildWorkflow(t, store, reg, true)

	bus, err := cmd.NewEventBus("gochannel", "", "crmflow-test", testLogger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = bus.Close() })

	engine := config.DefaultEngine()
	engine.Workers = 2
	engine.PollInterval = 20 * time.Millisecond

	worker := NewWorkerManager("worker-test", store, bus, delay.NewStoreTimer(store), engine,
		otelhelper.NoopTracer(), testLogger, reg)

	done := make(chan error, 1)

	go func() { done <- worker.Start(ctx) }()

	// The activator subscribes asynchronously, publish until the event is consumed.
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, "L1", events.DomainEvent{
			ID: "evt-1", Type: "lead.created", EntityID: "L1",
		})

		result, err := store.ExecutionRepository().ListByWorkflow(ctx, wf.ID, persistence.ListExecutionsOptions{})

		return err == nil && len(result.Executions) > 0
	}, 5*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		result, err := store.ExecutionRepository().ListByWorkflow(ctx, wf.ID, persistence.ListExecutionsOptions{})
		if err != nil || len(result.Executions) == 0 {
			return false
		}

		for _, exec := range result.Executions {
			if exec.Status != models.ExecutionStatusCompleted {
				return false
			}
		}

		return true
	}, 5*time.Second, 20*time.Millisecond)

	calls := recorder.CallsFor(collaborators.OpSetStatus)
	require.NotEmpty(t, calls)
	assert.Equal(t, "L1", calls[0].EntityID)
	assert.Equal(t, "qualified", calls[0].Value)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestValidateWorkflows(t *testing.T) {
	ctx := context.Background()

	reg, err := registry.NewDefault(testLogger, collaborators.NewSet(collaborators.NewRecorder()))
	require.NoError(t, err)

	store := file.NewPersistence(t.TempDir())
	buildWorkflow(t, store, reg, false)

	var out bytes.Buffer

	require.NoError(t, validateWorkflows(ctx, &out, services.NewWorkflow(store), reg))
	assert.Contains(t, out.String(), "Valid workflows: 1")

	_, err = services.NewWorkflow(store).Create(ctx, &models.Workflow{Name: "Empty"})
	require.NoError(t, err)

	out.Reset()

	err = validateWorkflows(ctx, &out, services.NewWorkflow(store), reg)
	require.ErrorIs(t, err, ErrInvalidWorkflows)
	assert.Contains(t, out.String(), "Invalid workflows: 1")
	assert.Contains(t, out.String(), "trigger_count")
}
