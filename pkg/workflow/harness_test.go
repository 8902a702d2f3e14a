package workflow

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/collaborators"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.DiscardHandler)

type harness struct {
	dir       string
	store     persistence.Persistence
	recorder  *collaborators.Recorder
	registry  *registry.Registry
	clock     *clockwork.FakeClock
	config    Config
	executor  *Executor
	scheduler *Scheduler
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()

	recorder := collaborators.NewRecorder()

	reg, err := registry.NewDefault(testLogger, collaborators.NewSet(recorder))
	require.NoError(t, err)

	h := &harness{
		dir:      t.TempDir(),
		recorder: recorder,
		registry: reg,
		clock:    clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)),
		config:   config,
	}

	h.restart()

	return h
}

// restart builds a fresh store, executor and scheduler over the same directory,
// the way a new worker process would after a crash.
func (h *harness) restart() {
	h.store = file.NewPersistence(h.dir)
	h.executor = NewExecutor(h.registry, h.config, h.clock, otelhelper.NoopTracer(), testLogger)
	h.scheduler = NewScheduler("worker-test", h.store, h.executor,
		SchedulerConfig{Workers: 1, LeaseTTL: time.Minute, PollInterval: time.Second},
		testLogger, WithClock(h.clock))
}

func node(id string, kind models.NodeKind, subtype string, config map[string]any) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Kind: kind, Subtype: subtype, Name: id, Config: config}
}

func edge(id, source, target, handle string) *models.Connection {
	return &models.Connection{ID: id, SourceNodeID: source, TargetNodeID: target, SourceHandle: handle}
}

// publish stores and publishes a workflow made of nodes and conns, returning its id.
func (h *harness) publish(t *testing.T, nodes []*models.WorkflowNode, conns []*models.Connection) string {
	t.Helper()

	ctx := context.Background()
	id := uuid.NewString()
	now := h.clock.Now()

	workflow := &models.Workflow{
		ID:        id,
		Name:      "Lead follow up",
		Status:    models.WorkflowStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, h.store.WorkflowRepository().Save(ctx, workflow))

	for _, n := range nodes {
		n.WorkflowID = id
		require.NoError(t, h.store.NodeRepository().SaveNode(ctx, id, n))
	}

	for _, c := range conns {
		c.WorkflowID = id
		require.NoError(t, h.store.ConnectionRepository().SaveConnection(ctx, id, c))
	}

	graph := &models.Graph{WorkflowID: id, Nodes: nodes, Connections: conns}
	require.NoError(t, Validate(graph, h.registry))

	trigger, ok := graph.Trigger()
	require.True(t, ok)

	require.NoError(t, h.store.WorkflowRepository().Publish(ctx, &models.WorkflowVersion{
		WorkflowID:     id,
		Version:        1,
		TriggerSubtype: trigger.Subtype,
		Nodes:          nodes,
		Connections:    conns,
		PublishedAt:    now,
	}))

	return id
}

// start creates a pending execution of version 1 of workflowID.
func (h *harness) start(t *testing.T, workflowID string, payload map[string]any) string {
	t.Helper()

	ctx := context.Background()

	version, err := h.store.WorkflowRepository().GetVersion(ctx, workflowID, 1)
	require.NoError(t, err)

	trigger, ok := version.Graph().Trigger()
	require.True(t, ok)

	now := h.clock.Now()
	exec := &models.WorkflowExecution{
		ID:              uuid.NewString(),
		WorkflowID:      workflowID,
		WorkflowVersion: 1,
		Status:          models.ExecutionStatusPending,
		CurrentNodeID:   trigger.ID,
		Context:         models.Context{},
		TriggerPayload:  payload,
		RunnableAt:      &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, h.store.ExecutionRepository().Create(ctx, exec))

	return exec.ID
}

func (h *harness) drain(t *testing.T) {
	t.Helper()

	_, err := h.scheduler.Drain(context.Background())
	require.NoError(t, err)
}

func (h *harness) execution(t *testing.T, id string) *models.WorkflowExecution {
	t.Helper()

	exec, err := h.store.ExecutionRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return exec
}

func (h *harness) steps(t *testing.T, id string) []*models.ExecutionStep {
	t.Helper()

	steps, err := h.store.StepRepository().ListByExecution(context.Background(), id)
	require.NoError(t, err)
	assertGapless(t, steps)

	return steps
}

func stepsFor(steps []*models.ExecutionStep, nodeID string) []*models.ExecutionStep {
	var out []*models.ExecutionStep

	for _, step := range steps {
		if step.NodeID == nodeID {
			out = append(out, step)
		}
	}

	return out
}

func assertGapless(t *testing.T, steps []*models.ExecutionStep) {
	t.Helper()

	for i, step := range steps {
		assert.Equal(t, i+1, step.StepOrder, "step_order must be gapless")
	}
}
