package activator_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/crmflow/pkg/activator"
	"github.com/dukex/crmflow/pkg/channels/gochannel"
	"github.com/dukex/crmflow/pkg/collaborators"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/mocks"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.DiscardHandler)

type fixture struct {
	store      persistence.Persistence
	registry   *registry.Registry
	executions *services.Execution
	activator  *activator.Activator
}

func newFixture(t *testing.T, subscriber eventbus.EventSubscriber) *fixture {
	t.Helper()

	reg, err := registry.NewDefault(testLogger, collaborators.NewSet(collaborators.NewRecorder()))
	require.NoError(t, err)

	store := file.NewPersistence(t.TempDir())
	executions := services.NewExecution(store, testLogger)

	return &fixture{
		store:      store,
		registry:   reg,
		executions: executions,
		activator:  activator.NewActivator("activator-test", subscriber, store.WorkflowRepository(), reg, executions, testLogger),
	}
}

// publish stores a one-node workflow published with triggerSubtype in unitID.
func (f *fixture) publish(t *testing.T, id, triggerSubtype, unitID string) {
	t.Helper()

	ctx := context.Background()

	wf := testutil.CreateTestWorkflow(id, unitID)
	wf.Nodes = []*models.WorkflowNode{
		testutil.CreateTestNode(testutil.WithTrigger(triggerSubtype), testutil.WithID("trigger")),
	}

	require.NoError(t, f.store.WorkflowRepository().Save(ctx, wf))
	require.NoError(t, f.store.WorkflowRepository().Publish(ctx, testutil.CreateTestVersion(wf)))
}

func (f *fixture) executionsOf(t *testing.T, workflowID string) []*models.WorkflowExecution {
	t.Helper()

	result, err := f.store.ExecutionRepository().ListByWorkflow(context.Background(), workflowID, persistence.ListExecutionsOptions{})
	require.NoError(t, err)

	return result.Executions
}

func TestActivator_HandleEventStartsMatchingWorkflows(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.publish(t, "welcome-unit-1", "lead_created", "unit-1")
	f.publish(t, "welcome-global", "lead_created", "")
	f.publish(t, "welcome-unit-2", "lead_created", "unit-2")
	f.publish(t, "on-reply", "message_received", "unit-1")

	started, err := f.activator.HandleEvent(ctx, &events.DomainEvent{
		ID:       "evt-1",
		Type:     "lead.created",
		UnitID:   "unit-1",
		EntityID: "L1",
		Payload:  map[string]any{"name": "Ana"},
	})
	require.NoError(t, err)
	assert.Len(t, started, 2)

	for _, id := range []string{"welcome-unit-1", "welcome-global"} {
		execs := f.executionsOf(t, id)
		require.Len(t, execs, 1, id)
		assert.Equal(t, models.ExecutionStatusPending, execs[0].Status)
		assert.Equal(t, "unit-1", execs[0].UnitID)
		assert.Equal(t, "trigger", execs[0].CurrentNodeID)
		assert.Equal(t, "L1", execs[0].TriggerPayload["entity_id"])
		assert.Equal(t, "Ana", execs[0].TriggerPayload["name"])
	}

	assert.Empty(t, f.executionsOf(t, "welcome-unit-2"))
	assert.Empty(t, f.executionsOf(t, "on-reply"))
}

func TestActivator_HandleEventWithoutListeners(t *testing.T) {
	f := newFixture(t, nil)

	started, err := f.activator.HandleEvent(context.Background(), &events.DomainEvent{ID: "evt-1", Type: "invoice.paid"})
	require.NoError(t, err)
	assert.Empty(t, started)
}

func TestActivator_LookupFailureIsReturned(t *testing.T) {
	reg, err := registry.NewDefault(testLogger, collaborators.NewSet(collaborators.NewRecorder()))
	require.NoError(t, err)

	store := mocks.NewMockPersistence()
	store.Workflows.On("PublishedByTrigger", mock.Anything, "lead_created", "unit-1").
		Return(nil, errors.New("connection reset"))

	a := activator.NewActivator("activator-test", nil, store.Workflows, reg,
		services.NewExecution(store, testLogger), testLogger)

	_, err = a.HandleEvent(context.Background(), &events.DomainEvent{ID: "evt-1", Type: "lead.created", UnitID: "unit-1"})
	require.ErrorContains(t, err, "connection reset")

	store.Workflows.AssertExpectations(t)
}

type staticIndex []string

func (s staticIndex) TriggerSubtypes(string) []string { return s }

type countingStarter struct {
	starts int
}

func (c *countingStarter) Start(
	_ context.Context,
	version *models.WorkflowVersion,
	_ map[string]any,
	unitID string,
) (*models.WorkflowExecution, error) {
	c.starts++

	return &models.WorkflowExecution{WorkflowID: version.WorkflowID, UnitID: unitID}, nil
}

func TestActivator_LookupFailureStartsNothing(t *testing.T) {
	store := mocks.NewMockPersistence()
	store.Workflows.On("PublishedByTrigger", mock.Anything, "lead_created", "unit-1").
		Return([]*models.WorkflowVersion{{WorkflowID: "welcome", Version: 1}}, nil)
	store.Workflows.On("PublishedByTrigger", mock.Anything, "lead_updated", "unit-1").
		Return(nil, errors.New("connection reset"))

	starter := &countingStarter{}
	a := activator.NewActivator("activator-test", nil, store.Workflows,
		staticIndex{"lead_created", "lead_updated"}, starter, testLogger)

	started, err := a.HandleEvent(context.Background(), &events.DomainEvent{ID: "evt-1", Type: "lead.created", UnitID: "unit-1"})
	require.ErrorContains(t, err, "connection reset")
	assert.Empty(t, started)
	assert.Zero(t, starter.starts, "a redelivered event must not find executions already started")

	store.Workflows.AssertExpectations(t)
}

func TestActivator_ConsumesFromEventBus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(testLogger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, testLogger)
	t.Cleanup(func() { _ = bus.Close() })

	f := newFixture(t, bus)
	f.publish(t, "welcome", "lead_created", "")

	require.NoError(t, f.activator.Start(ctx))
	require.NoError(t, bus.Publish(ctx, "L1", events.DomainEvent{
		ID: "evt-1", Type: "lead.created", UnitID: "unit-1", EntityID: "L1",
	}))

	require.Eventually(t, func() bool {
		result, err := f.store.ExecutionRepository().ListByWorkflow(context.Background(), "welcome", persistence.ListExecutionsOptions{})

		return err == nil && len(result.Executions) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestActivator_StartRegistersHandler(t *testing.T) {
	bus := &mocks.MockEventBus{}
	ctx := context.Background()

	bus.On("Handle", events.DomainEventType, mock.Anything).Return(nil)
	bus.On("Subscribe", ctx).Return(nil)

	f := newFixture(t, bus)
	require.NoError(t, f.activator.Start(ctx))

	bus.AssertExpectations(t)
}
