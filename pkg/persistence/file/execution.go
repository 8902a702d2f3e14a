package file

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// ExecutionRepository stores executions in executions/<id>.json.
type ExecutionRepository struct {
	store *store
}

func (er *ExecutionRepository) executionPath(id string) string {
	return er.store.path("executions", id+".json")
}

func stepPath(s *store, executionID string, order int) string {
	return s.path("steps", executionID, fmt.Sprintf("%08d.json", order))
}

func (er *ExecutionRepository) load(id string) (*models.WorkflowExecution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	var execution models.WorkflowExecution

	found, err := er.store.read(er.executionPath(id), &execution)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

func (er *ExecutionRepository) put(execution *models.WorkflowExecution) error {
	return er.store.write(er.executionPath(execution.ID), fileExecution{
		WorkflowExecution: execution,
		LeaseToken:        execution.LeaseToken,
	})
}

// fileExecution persists the lease token, which the API representation hides.
type fileExecution struct {
	*models.WorkflowExecution

	LeaseToken string `json:"lease_token,omitempty"`
}

func (er *ExecutionRepository) all() ([]*models.WorkflowExecution, error) {
	ids, err := er.store.list(er.store.path("executions"))
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0, len(ids))

	for _, id := range ids {
		var stored fileExecution

		stored.WorkflowExecution = &models.WorkflowExecution{}

		found, err := er.store.read(er.executionPath(id), &stored)
		if err != nil {
			return nil, err
		}

		if !found {
			continue
		}

		stored.WorkflowExecution.LeaseToken = stored.LeaseToken
		executions = append(executions, stored.WorkflowExecution)
	}

	return executions, nil
}

func countLive(s *store, workflowID string) (int, error) {
	executions, err := (&ExecutionRepository{store: s}).all()
	if err != nil {
		return 0, err
	}

	live := 0

	for _, execution := range executions {
		if execution.WorkflowID == workflowID && !execution.Status.IsTerminal() {
			live++
		}
	}

	return live, nil
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	if _, err := er.loadWithToken(execution.ID); err == nil {
		return persistence.NewExecutionError("Create", execution.ID, errors.New("execution already exists"))
	}

	return er.put(execution)
}

// loadWithToken reads an execution including its lease token.
func (er *ExecutionRepository) loadWithToken(id string) (*models.WorkflowExecution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	stored := fileExecution{WorkflowExecution: &models.WorkflowExecution{}}

	found, err := er.store.read(er.executionPath(id), &stored)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	stored.WorkflowExecution.LeaseToken = stored.LeaseToken

	return stored.WorkflowExecution, nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	return er.load(id)
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	opts.Limit, opts.Offset = persistence.NormalizePage(opts.Limit, opts.Offset)

	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if execution.WorkflowID != workflowID {
			continue
		}

		if opts.Status != nil && execution.Status != *opts.Status {
			continue
		}

		execution.LeaseToken = ""
		filtered = append(filtered, execution)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := int64(len(filtered))

	if opts.Offset >= len(filtered) {
		return &persistence.ExecutionListResult{
			Executions: make([]*models.WorkflowExecution, 0),
			TotalCount: total,
		}, nil
	}

	end := min(opts.Offset+opts.Limit, len(filtered))

	return &persistence.ExecutionListResult{
		Executions:  filtered[opts.Offset:end],
		TotalCount:  total,
		HasNextPage: end < len(filtered),
	}, nil
}

func (er *ExecutionRepository) CountLive(_ context.Context, workflowID string) (int, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	return countLive(er.store, workflowID)
}

// ClaimRunnable leases the runnable execution with the oldest runnable_at.
func (er *ExecutionRepository) ClaimRunnable(_ context.Context, owner string, now time.Time, ttl time.Duration) (*models.WorkflowExecution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	executions, err := er.all()
	if err != nil {
		return nil, err
	}

	var candidate *models.WorkflowExecution

	for _, execution := range executions {
		if !execution.Runnable(now) {
			continue
		}

		if candidate == nil ||
			execution.RunnableAt.Before(*candidate.RunnableAt) ||
			(execution.RunnableAt.Equal(*candidate.RunnableAt) && execution.CreatedAt.Before(candidate.CreatedAt)) {
			candidate = execution
		}
	}

	if candidate == nil {
		return nil, nil
	}

	persistence.ApplyClaim(candidate, owner, now, ttl)

	if err := er.put(candidate); err != nil {
		return nil, err
	}

	return candidate, nil
}

func (er *ExecutionRepository) RenewLease(_ context.Context, lease models.Lease, now time.Time, ttl time.Duration) (*models.WorkflowExecution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	stored, err := er.loadWithToken(lease.ExecutionID)
	if err != nil {
		return nil, err
	}

	if err := persistence.ApplyRenew(stored, lease, now, ttl); err != nil {
		return nil, err
	}

	if err := er.put(stored); err != nil {
		return nil, err
	}

	return stored, nil
}

// CommitStep writes the step, the wakeup and the execution under the store lock.
func (er *ExecutionRepository) CommitStep(
	_ context.Context,
	lease models.Lease,
	commit models.ExecutionCommit,
	now time.Time,
	ttl time.Duration,
) (models.Lease, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	stored, err := er.loadWithToken(lease.ExecutionID)
	if err != nil {
		return models.Lease{}, err
	}

	next, renewed, err := persistence.ApplyCommit(stored, lease, commit, now, ttl)
	if err != nil {
		return models.Lease{}, err
	}

	if step := commit.Step; step != nil {
		path := stepPath(er.store, stored.ID, step.StepOrder)

		var existing models.ExecutionStep

		found, err := er.store.read(path, &existing)
		if err != nil {
			return models.Lease{}, err
		}

		if found {
			return models.Lease{}, persistence.NewExecutionError("CommitStep", stored.ID, persistence.ErrDuplicateStep)
		}

		step.ExecutionID = stored.ID
		if err := er.store.write(path, step); err != nil {
			return models.Lease{}, err
		}
	}

	if wakeup := commit.Wakeup; wakeup != nil {
		if err := saveWakeup(er.store, wakeup); err != nil {
			return models.Lease{}, err
		}
	}

	if err := er.put(next); err != nil {
		return models.Lease{}, err
	}

	return renewed, nil
}

func (er *ExecutionRepository) ReleaseLease(_ context.Context, lease models.Lease) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	stored, err := er.loadWithToken(lease.ExecutionID)
	if err != nil {
		return err
	}

	if !persistence.ApplyRelease(stored, lease) {
		return nil
	}

	return er.put(stored)
}

func (er *ExecutionRepository) MakeRunnable(_ context.Context, executionID string, generation int, now time.Time) (bool, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	stored, err := er.loadWithToken(executionID)
	if err != nil {
		return false, err
	}

	if !persistence.ApplyWake(stored, generation, now) {
		return false, nil
	}

	return true, er.put(stored)
}

func (er *ExecutionRepository) RequestCancel(_ context.Context, executionID string, now time.Time) (*models.WorkflowExecution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	stored, err := er.loadWithToken(executionID)
	if err != nil {
		return nil, err
	}

	if persistence.ApplyCancel(stored, now) {
		if err := er.put(stored); err != nil {
			return nil, err
		}
	}

	stored.LeaseToken = ""

	return stored, nil
}

// StepRepository reads steps from steps/<execution_id>/.
type StepRepository struct {
	store *store
}

func (sr *StepRepository) ListByExecution(_ context.Context, executionID string) ([]*models.ExecutionStep, error) {
	if err := validateID(executionID); err != nil {
		return nil, persistence.NewExecutionError("ListSteps", executionID, err)
	}

	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	names, err := sr.store.list(sr.store.path("steps", executionID))
	if err != nil {
		return nil, err
	}

	steps := make([]*models.ExecutionStep, 0, len(names))

	for _, name := range names {
		var step models.ExecutionStep

		found, err := sr.store.read(sr.store.path("steps", executionID, name+".json"), &step)
		if err != nil {
			return nil, err
		}

		if found {
			steps = append(steps, &step)
		}
	}

	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StepOrder < steps[j].StepOrder
	})

	return steps, nil
}
