package persistence

import (
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

// The functions below hold the execution state rules every backend applies
// to the row it has locked, so file and SQL storage behave the same way.

// ApplyClaim leases a runnable execution to owner.
func ApplyClaim(stored *models.WorkflowExecution, owner string, now time.Time, ttl time.Duration) {
	expires := now.Add(ttl).UTC()

	stored.LeaseOwner = owner
	stored.LeaseToken = uuid.NewString()
	stored.LeaseExpiresAt = &expires
	stored.UpdatedAt = now.UTC()
}

// CheckLease verifies lease is the one recorded on stored and still live.
func CheckLease(stored *models.WorkflowExecution, lease models.Lease, now time.Time) error {
	if stored.LeaseToken == "" || stored.LeaseToken != lease.Token || !stored.HasLiveLease(now) {
		return NewExecutionError("CheckLease", stored.ID, ErrLeaseLost)
	}

	return nil
}

// ApplyRenew extends the lease held on stored.
func ApplyRenew(stored *models.WorkflowExecution, lease models.Lease, now time.Time, ttl time.Duration) error {
	if err := CheckLease(stored, lease, now); err != nil {
		return err
	}

	expires := now.Add(ttl).UTC()
	stored.LeaseExpiresAt = &expires
	stored.UpdatedAt = now.UTC()

	return nil
}

// ApplyCommit validates commit against the locked row and returns the row to write back
// together with the lease the caller holds afterwards.
func ApplyCommit(
	stored *models.WorkflowExecution,
	lease models.Lease,
	commit models.ExecutionCommit,
	now time.Time,
	ttl time.Duration,
) (*models.WorkflowExecution, models.Lease, error) {
	if err := CheckLease(stored, lease, now); err != nil {
		return nil, models.Lease{}, err
	}

	next := *commit.Execution

	if next.Status != stored.Status && !stored.Status.CanTransition(next.Status) {
		return nil, models.Lease{}, NewExecutionError("CommitStep", stored.ID,
			fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, stored.Status, next.Status))
	}

	if step := commit.Step; step != nil {
		if step.StepOrder != stored.StepCount+1 {
			return nil, models.Lease{}, NewExecutionError("CommitStep", stored.ID,
				fmt.Errorf("%w: step_order %d after %d", ErrDuplicateStep, step.StepOrder, stored.StepCount))
		}

		next.StepCount = step.StepOrder
	} else {
		next.StepCount = stored.StepCount
	}

	next.ID = stored.ID
	next.WorkflowID = stored.WorkflowID
	next.WorkflowVersion = stored.WorkflowVersion
	next.CreatedAt = stored.CreatedAt
	next.CancelRequested = stored.CancelRequested || next.CancelRequested
	next.UpdatedAt = now.UTC()

	switch {
	case stored.StartedAt != nil:
		next.StartedAt = stored.StartedAt
	case next.Status == models.ExecutionStatusRunning:
		started := now.UTC()
		next.StartedAt = &started
	}

	switch {
	case next.Status == models.ExecutionStatusRunning || next.Status == models.ExecutionStatusPending:
		expires := now.Add(ttl).UTC()
		next.LeaseOwner = stored.LeaseOwner
		next.LeaseToken = stored.LeaseToken
		next.LeaseExpiresAt = &expires

		next.RunnableAt = stored.RunnableAt
		if next.RunnableAt == nil {
			runnable := now.UTC()
			next.RunnableAt = &runnable
		}

		return &next, next.Lease(), nil
	default:
		next.LeaseOwner = ""
		next.LeaseToken = ""
		next.LeaseExpiresAt = nil
		next.RunnableAt = nil

		if next.Status.IsTerminal() && next.CompletedAt == nil {
			completed := now.UTC()
			next.CompletedAt = &completed
		}

		return &next, models.Lease{}, nil
	}
}

// ApplyRelease drops the lease if it is still the recorded one.
func ApplyRelease(stored *models.WorkflowExecution, lease models.Lease) bool {
	if stored.LeaseToken == "" || stored.LeaseToken != lease.Token {
		return false
	}

	stored.LeaseOwner = ""
	stored.LeaseToken = ""
	stored.LeaseExpiresAt = nil

	return true
}

// ApplyWake makes a paused execution runnable when generation matches. Stale or repeated
// wakeups leave the row untouched and report false.
func ApplyWake(stored *models.WorkflowExecution, generation int, now time.Time) bool {
	if stored.Status != models.ExecutionStatusPaused ||
		stored.Generation != generation ||
		stored.RunnableAt != nil {
		return false
	}

	runnable := now.UTC()
	stored.RunnableAt = &runnable
	stored.UpdatedAt = now.UTC()

	return true
}

// ApplyCancel cancels the execution immediately when nobody holds it, otherwise flags it
// for the lease holder. Terminal executions are left untouched.
func ApplyCancel(stored *models.WorkflowExecution, now time.Time) bool {
	if stored.Status.IsTerminal() {
		return false
	}

	stored.CancelRequested = true
	stored.UpdatedAt = now.UTC()

	idle := stored.Status == models.ExecutionStatusPending || stored.Status == models.ExecutionStatusPaused
	if idle && !stored.HasLiveLease(now) {
		completed := now.UTC()
		stored.Status = models.ExecutionStatusCancelled
		stored.CompletedAt = &completed
		stored.RunnableAt = nil
		stored.WakeAt = nil
		stored.LeaseOwner = ""
		stored.LeaseToken = ""
		stored.LeaseExpiresAt = nil
	}

	return true
}
