// Package persistencetest holds behaviour checks every persistence backend must pass.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty persistence for one subtest.
type Factory func(t *testing.T) persistence.Persistence

// RunExecutionSuite exercises the lease, commit, wake and cancel rules of a backend.
func RunExecutionSuite(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("claim and commit", func(t *testing.T) { testClaimAndCommit(t, factory(t)) })
	t.Run("expired lease is reclaimed", func(t *testing.T) { testLeaseExpiry(t, factory(t)) })
	t.Run("concurrent claims grant one lease", func(t *testing.T) { testConcurrentClaim(t, factory(t)) })
	t.Run("make runnable is idempotent", func(t *testing.T) { testMakeRunnable(t, factory(t)) })
	t.Run("request cancel", func(t *testing.T) { testRequestCancel(t, factory(t)) })
	t.Run("illegal transition", func(t *testing.T) { testIllegalTransition(t, factory(t)) })
	t.Run("wakeup lifecycle", func(t *testing.T) { testWakeups(t, factory(t)) })
}

// Now returns a timestamp every backend round-trips exactly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewPendingExecution builds a runnable execution for workflowID.
func NewPendingExecution(workflowID string, now time.Time) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:              uuid.NewString(),
		WorkflowID:      workflowID,
		WorkflowVersion: 1,
		Status:          models.ExecutionStatusPending,
		CurrentNodeID:   "trigger",
		Context:         models.Context{},
		TriggerPayload:  map[string]any{"lead_id": "lead-1"},
		RunnableAt:      &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func step(executionID string, order int, now time.Time) *models.ExecutionStep {
	return &models.ExecutionStep{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		NodeID:      "trigger",
		NodeKind:    models.NodeKindTrigger,
		Subtype:     "manual",
		StepOrder:   order,
		Attempt:     1,
		Status:      models.StepStatusCompleted,
		StartedAt:   now,
		CompletedAt: now,
	}
}

func testClaimAndCommit(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()
	now := Now()
	ttl := 30 * time.Second

	execution := NewPendingExecution("wf-1", now)
	require.NoError(t, repo.Create(ctx, execution))

	claimed, err := repo.ClaimRunnable(ctx, "worker-1", now, ttl)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, execution.ID, claimed.ID)
	assert.Equal(t, "worker-1", claimed.LeaseOwner)

	again, err := repo.ClaimRunnable(ctx, "worker-2", now, ttl)
	require.NoError(t, err)
	assert.Nil(t, again, "leased execution must not be claimed twice")

	lease := claimed.Lease()

	claimed.Status = models.ExecutionStatusRunning
	claimed.StepCount = 1
	lease, err = repo.CommitStep(ctx, lease, models.ExecutionCommit{
		Execution: claimed,
		Step:      step(claimed.ID, 1, now),
	}, now, ttl)
	require.NoError(t, err)
	assert.True(t, lease.Live(now))

	_, err = repo.CommitStep(ctx, lease, models.ExecutionCommit{
		Execution: claimed,
		Step:      step(claimed.ID, 1, now),
	}, now, ttl)
	require.ErrorIs(t, err, persistence.ErrDuplicateStep)

	_, err = repo.CommitStep(ctx, lease, models.ExecutionCommit{
		Execution: claimed,
		Step:      step(claimed.ID, 3, now),
	}, now, ttl)
	require.ErrorIs(t, err, persistence.ErrDuplicateStep, "step_order must stay gapless")

	forged := lease
	forged.Token = "forged"
	_, err = repo.CommitStep(ctx, forged, models.ExecutionCommit{
		Execution: claimed,
		Step:      step(claimed.ID, 2, now),
	}, now, ttl)
	require.ErrorIs(t, err, persistence.ErrLeaseLost)

	wakeAt := now.Add(10 * time.Minute)
	claimed.Status = models.ExecutionStatusPaused
	claimed.Generation = 1
	claimed.WakeAt = &wakeAt
	wakeup := models.NewWakeup(claimed.ID, 1, "action", models.WakeupReasonDelay, wakeAt, now)

	released, err := repo.CommitStep(ctx, lease, models.ExecutionCommit{
		Execution: claimed,
		Step:      step(claimed.ID, 2, now),
		Wakeup:    wakeup,
	}, now, ttl)
	require.NoError(t, err)
	assert.Empty(t, released.Token)

	stored, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, stored.Status)
	assert.Equal(t, 2, stored.StepCount)
	assert.Nil(t, stored.RunnableAt)
	assert.Empty(t, stored.LeaseOwner)

	steps, err := p.StepRepository().ListByExecution(ctx, claimed.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	for i, s := range steps {
		assert.Equal(t, i+1, s.StepOrder)
	}

	due, err := p.WakeupRepository().Due(ctx, wakeAt, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, wakeup.ID, due[0].ID)

	notYet, err := p.WakeupRepository().Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, notYet)

	none, err := repo.ClaimRunnable(ctx, "worker-1", wakeAt, ttl)
	require.NoError(t, err)
	assert.Nil(t, none, "paused executions are not runnable until woken")
}

func testLeaseExpiry(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()
	now := Now()

	execution := NewPendingExecution("wf-1", now)
	require.NoError(t, repo.Create(ctx, execution))

	first, err := repo.ClaimRunnable(ctx, "worker-1", now, time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	later := now.Add(2 * time.Second)

	second, err := repo.ClaimRunnable(ctx, "worker-2", later, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "worker-2", second.LeaseOwner)

	first.Status = models.ExecutionStatusRunning
	_, err = repo.CommitStep(ctx, first.Lease(), models.ExecutionCommit{
		Execution: first,
		Step:      step(first.ID, 1, later),
	}, later, time.Minute)
	require.ErrorIs(t, err, persistence.ErrLeaseLost)

	_, err = repo.RenewLease(ctx, first.Lease(), later, time.Minute)
	require.ErrorIs(t, err, persistence.ErrLeaseLost)

	renewed, err := repo.RenewLease(ctx, second.Lease(), later, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, renewed.ID)

	require.NoError(t, repo.ReleaseLease(ctx, second.Lease()))

	third, err := repo.ClaimRunnable(ctx, "worker-3", later, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, third, "released executions stay runnable")
}

func testConcurrentClaim(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()
	now := Now()

	require.NoError(t, repo.Create(ctx, NewPendingExecution("wf-1", now)))

	const workers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)

	for i := range workers {
		wg.Add(1)

		go func(owner int) {
			defer wg.Done()

			claimed, err := repo.ClaimRunnable(ctx, "worker-"+string(rune('a'+owner)), now, time.Minute)
			assert.NoError(t, err)

			if claimed != nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 1, granted)
}

func testMakeRunnable(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()
	now := Now()

	execution := NewPendingExecution("wf-1", now)
	require.NoError(t, repo.Create(ctx, execution))

	claimed, err := repo.ClaimRunnable(ctx, "worker-1", now, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	claimed.Status = models.ExecutionStatusRunning
	lease, err := repo.CommitStep(ctx, claimed.Lease(), models.ExecutionCommit{
		Execution: claimed,
		Step:      step(claimed.ID, 1, now),
	}, now, time.Minute)
	require.NoError(t, err)

	claimed.Status = models.ExecutionStatusPaused
	claimed.Generation = 1
	_, err = repo.CommitStep(ctx, lease, models.ExecutionCommit{Execution: claimed}, now, time.Minute)
	require.NoError(t, err)

	stale, err := repo.MakeRunnable(ctx, claimed.ID, 0, now)
	require.NoError(t, err)
	assert.False(t, stale)

	woke, err := repo.MakeRunnable(ctx, claimed.ID, 1, now)
	require.NoError(t, err)
	assert.True(t, woke)

	duplicate, err := repo.MakeRunnable(ctx, claimed.ID, 1, now)
	require.NoError(t, err)
	assert.False(t, duplicate, "a second delivery must not enqueue again")

	resumed, err := repo.ClaimRunnable(ctx, "worker-2", now, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, models.ExecutionStatusPaused, resumed.Status)
	assert.Equal(t, 1, resumed.StepCount)
}

func testRequestCancel(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()
	now := Now()

	idle := NewPendingExecution("wf-1", now)
	require.NoError(t, repo.Create(ctx, idle))

	cancelled, err := repo.RequestCancel(ctx, idle.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	busy := NewPendingExecution("wf-1", now)
	require.NoError(t, repo.Create(ctx, busy))

	claimed, err := repo.ClaimRunnable(ctx, "worker-1", now, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, busy.ID, claimed.ID)

	flagged, err := repo.RequestCancel(ctx, busy.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, flagged.Status)
	assert.True(t, flagged.CancelRequested)

	renewed, err := repo.RenewLease(ctx, claimed.Lease(), now, time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed.CancelRequested, "lease holder sees the flag")

	again, err := repo.RequestCancel(ctx, idle.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, cancelled.CompletedAt.Unix(), again.CompletedAt.Unix(), "terminal executions are untouched")
}

func testIllegalTransition(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ExecutionRepository()
	now := Now()

	require.NoError(t, repo.Create(ctx, NewPendingExecution("wf-1", now)))

	claimed, err := repo.ClaimRunnable(ctx, "worker-1", now, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	claimed.Status = models.ExecutionStatusPaused
	_, err = repo.CommitStep(ctx, claimed.Lease(), models.ExecutionCommit{Execution: claimed}, now, time.Minute)
	require.ErrorIs(t, err, persistence.ErrIllegalTransition)
}

func testWakeups(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.WakeupRepository()
	now := Now()

	first := models.NewWakeup("exec-1", 1, "n1", models.WakeupReasonDelay, now.Add(time.Minute), now)
	second := models.NewWakeup("exec-1", 2, "n1", models.WakeupReasonRetry, now.Add(2*time.Minute), now)
	other := models.NewWakeup("exec-2", 1, "n2", models.WakeupReasonDelay, now.Add(time.Minute), now)

	for _, w := range []*models.Wakeup{first, first, second, other} {
		require.NoError(t, repo.Save(ctx, w))
	}

	pending, err := repo.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	due, err := repo.Due(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	require.NoError(t, repo.MarkFired(ctx, first.ID, now.Add(time.Minute)))
	require.NoError(t, repo.CancelByExecution(ctx, "exec-1", now.Add(time.Minute)))

	list, err := repo.ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	statuses := map[string]models.WakeupStatus{}
	for _, w := range list {
		statuses[w.ID] = w.Status
	}

	assert.Equal(t, models.WakeupStatusFired, statuses[first.ID])
	assert.Equal(t, models.WakeupStatusCancelled, statuses[second.ID])

	due, err = repo.Due(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, other.ID, due[0].ID)
}
