package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// ExecutionRepository keeps execution state in workflow_executions. Every state change
// locks the row with SELECT ... FOR UPDATE and applies the shared persistence rules.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `id, workflow_id, workflow_version, unit_id, status, current_node_id, context,
	trigger_payload, error_message, retry_count, step_count, cancel_requested, generation, wake_at,
	waiting_since, runnable_at, lease_owner, lease_token, lease_expires_at, started_at, completed_at,
	created_at, updated_at`

func (er *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	args, err := executionArgs(execution)
	if err != nil {
		return err
	}

	_, err = er.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionError("Create", execution.ID, errors.New("execution already exists"))
		}

		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := er.get(ctx, er.db, id, false)
	if err != nil {
		return nil, err
	}

	execution.LeaseToken = ""

	return execution, nil
}

func (er *ExecutionRepository) get(ctx context.Context, q queryer, id string, forUpdate bool) (*models.WorkflowExecution, error) {
	query := "SELECT " + executionColumns + " FROM workflow_executions WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	execution, err := scanExecution(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	opts.Limit, opts.Offset = persistence.NormalizePage(opts.Limit, opts.Offset)

	status := ""
	if opts.Status != nil {
		status = string(*opts.Status)
	}

	where := "WHERE workflow_id = $1 AND ($2 = '' OR status = $2)"

	var total int64

	err := er.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_executions "+where, workflowID, status).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	rows, err := er.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM workflow_executions "+where+
			" ORDER BY created_at DESC, id LIMIT $3 OFFSET $4",
		workflowID, status, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, er.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		execution.LeaseToken = ""
		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return &persistence.ExecutionListResult{
		Executions:  executions,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(executions)) < total,
	}, nil
}

func (er *ExecutionRepository) CountLive(ctx context.Context, workflowID string) (int, error) {
	var live int

	err := er.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_executions
		WHERE workflow_id = $1 AND status IN ('pending', 'running', 'paused')
	`, workflowID).Scan(&live)
	if err != nil {
		return 0, fmt.Errorf("failed to count live executions: %w", err)
	}

	return live, nil
}

// ClaimRunnable leases the oldest runnable execution. SKIP LOCKED lets concurrent
// workers pass over rows another worker is claiming.
func (er *ExecutionRepository) ClaimRunnable(ctx context.Context, owner string, now time.Time, ttl time.Duration) (*models.WorkflowExecution, error) {
	var claimed *models.WorkflowExecution

	err := er.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+executionColumns+` FROM workflow_executions
			WHERE status IN ('pending', 'running', 'paused')
			  AND runnable_at IS NOT NULL AND runnable_at <= $1
			  AND (lease_token = '' OR lease_expires_at IS NULL OR lease_expires_at <= $1)
			ORDER BY runnable_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, now.UTC())

		execution, err := scanExecution(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}

			return fmt.Errorf("failed to scan runnable execution: %w", err)
		}

		persistence.ApplyClaim(execution, owner, now, ttl)

		if err := er.update(ctx, tx, execution); err != nil {
			return err
		}

		claimed = execution

		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (er *ExecutionRepository) RenewLease(ctx context.Context, lease models.Lease, now time.Time, ttl time.Duration) (*models.WorkflowExecution, error) {
	var renewed *models.WorkflowExecution

	err := er.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := er.get(ctx, tx, lease.ExecutionID, true)
		if err != nil {
			return err
		}

		if err := persistence.ApplyRenew(stored, lease, now, ttl); err != nil {
			return err
		}

		renewed = stored

		return er.update(ctx, tx, stored)
	})
	if err != nil {
		return nil, err
	}

	return renewed, nil
}

// CommitStep inserts the step and wakeup and updates the execution in one transaction.
func (er *ExecutionRepository) CommitStep(
	ctx context.Context,
	lease models.Lease,
	commit models.ExecutionCommit,
	now time.Time,
	ttl time.Duration,
) (models.Lease, error) {
	var renewed models.Lease

	err := er.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := er.get(ctx, tx, lease.ExecutionID, true)
		if err != nil {
			return err
		}

		next, held, err := persistence.ApplyCommit(stored, lease, commit, now, ttl)
		if err != nil {
			return err
		}

		if step := commit.Step; step != nil {
			step.ExecutionID = stored.ID

			if err := insertStep(ctx, tx, step); err != nil {
				return err
			}
		}

		if wakeup := commit.Wakeup; wakeup != nil {
			if err := insertWakeup(ctx, tx, wakeup); err != nil {
				return err
			}
		}

		if err := er.update(ctx, tx, next); err != nil {
			return err
		}

		renewed = held

		return nil
	})
	if err != nil {
		return models.Lease{}, err
	}

	return renewed, nil
}

func (er *ExecutionRepository) ReleaseLease(ctx context.Context, lease models.Lease) error {
	return er.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := er.get(ctx, tx, lease.ExecutionID, true)
		if err != nil {
			return err
		}

		if !persistence.ApplyRelease(stored, lease) {
			return nil
		}

		return er.update(ctx, tx, stored)
	})
}

func (er *ExecutionRepository) MakeRunnable(ctx context.Context, executionID string, generation int, now time.Time) (bool, error) {
	woke := false

	err := er.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := er.get(ctx, tx, executionID, true)
		if err != nil {
			return err
		}

		if !persistence.ApplyWake(stored, generation, now) {
			return nil
		}

		woke = true

		return er.update(ctx, tx, stored)
	})

	return woke, err
}

func (er *ExecutionRepository) RequestCancel(ctx context.Context, executionID string, now time.Time) (*models.WorkflowExecution, error) {
	var result *models.WorkflowExecution

	err := er.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := er.get(ctx, tx, executionID, true)
		if err != nil {
			return err
		}

		result = stored

		if !persistence.ApplyCancel(stored, now) {
			return nil
		}

		return er.update(ctx, tx, stored)
	})
	if err != nil {
		return nil, err
	}

	result.LeaseToken = ""

	return result, nil
}

func (er *ExecutionRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := er.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, er.logger, tx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (er *ExecutionRepository) update(ctx context.Context, tx *sql.Tx, execution *models.WorkflowExecution) error {
	args, err := executionArgs(execution)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_executions SET
			workflow_id = $2, workflow_version = $3, unit_id = $4, status = $5, current_node_id = $6,
			context = $7, trigger_payload = $8, error_message = $9, retry_count = $10, step_count = $11,
			cancel_requested = $12, generation = $13, wake_at = $14, waiting_since = $15, runnable_at = $16,
			lease_owner = $17, lease_token = $18, lease_expires_at = $19, started_at = $20,
			completed_at = $21, created_at = $22, updated_at = $23
		WHERE id = $1
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	return nil
}

func executionArgs(execution *models.WorkflowExecution) ([]any, error) {
	contextJSON, err := marshalJSON(execution.Context)
	if err != nil {
		return nil, err
	}

	payloadJSON, err := marshalJSON(execution.TriggerPayload)
	if err != nil {
		return nil, err
	}

	return []any{
		execution.ID,
		execution.WorkflowID,
		execution.WorkflowVersion,
		execution.UnitID,
		execution.Status,
		execution.CurrentNodeID,
		contextJSON,
		payloadJSON,
		execution.Error,
		execution.RetryCount,
		execution.StepCount,
		execution.CancelRequested,
		execution.Generation,
		nullTime(execution.WakeAt),
		nullTime(execution.WaitingSince),
		nullTime(execution.RunnableAt),
		execution.LeaseOwner,
		execution.LeaseToken,
		nullTime(execution.LeaseExpiresAt),
		nullTime(execution.StartedAt),
		nullTime(execution.CompletedAt),
		execution.CreatedAt.UTC(),
		execution.UpdatedAt.UTC(),
	}, nil
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution                                      models.WorkflowExecution
		contextJSON, payloadJSON                       []byte
		wakeAt, waitingSince, runnableAt, leaseExpires sql.NullTime
		startedAt, completedAt                         sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.WorkflowVersion,
		&execution.UnitID,
		&execution.Status,
		&execution.CurrentNodeID,
		&contextJSON,
		&payloadJSON,
		&execution.Error,
		&execution.RetryCount,
		&execution.StepCount,
		&execution.CancelRequested,
		&execution.Generation,
		&wakeAt,
		&waitingSince,
		&runnableAt,
		&execution.LeaseOwner,
		&execution.LeaseToken,
		&leaseExpires,
		&startedAt,
		&completedAt,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(contextJSON, &execution.Context); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(payloadJSON, &execution.TriggerPayload); err != nil {
		return nil, err
	}

	if execution.Context == nil {
		execution.Context = models.Context{}
	}

	execution.WakeAt = timePtr(wakeAt)
	execution.WaitingSince = timePtr(waitingSince)
	execution.RunnableAt = timePtr(runnableAt)
	execution.LeaseExpiresAt = timePtr(leaseExpires)
	execution.StartedAt = timePtr(startedAt)
	execution.CompletedAt = timePtr(completedAt)
	execution.CreatedAt = execution.CreatedAt.UTC()
	execution.UpdatedAt = execution.UpdatedAt.UTC()

	return &execution, nil
}

func insertStep(ctx context.Context, tx *sql.Tx, step *models.ExecutionStep) error {
	input, err := marshalJSON(step.Input)
	if err != nil {
		return err
	}

	output, err := marshalJSON(step.Output)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_steps (id, execution_id, node_id, node_kind, subtype, step_order, attempt,
			status, handle, input, output, error_message, error_kind, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		step.ID,
		step.ExecutionID,
		step.NodeID,
		step.NodeKind,
		step.Subtype,
		step.StepOrder,
		step.Attempt,
		step.Status,
		step.Handle,
		input,
		output,
		step.Error,
		step.ErrorKind,
		step.StartedAt.UTC(),
		step.CompletedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionError("CommitStep", step.ExecutionID, persistence.ErrDuplicateStep)
		}

		return fmt.Errorf("failed to insert step: %w", err)
	}

	return nil
}

// StepRepository reads execution_steps.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (sr *StepRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionStep, error) {
	rows, err := sr.db.QueryContext(ctx, `
		SELECT id, execution_id, node_id, node_kind, subtype, step_order, attempt, status, handle,
			input, output, error_message, error_kind, started_at, completed_at
		FROM execution_steps
		WHERE execution_id = $1
		ORDER BY step_order
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer closeRows(ctx, sr.logger, rows)

	steps := make([]*models.ExecutionStep, 0)

	for rows.Next() {
		var (
			step          models.ExecutionStep
			input, output []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.ExecutionID,
			&step.NodeID,
			&step.NodeKind,
			&step.Subtype,
			&step.StepOrder,
			&step.Attempt,
			&step.Status,
			&step.Handle,
			&input,
			&output,
			&step.Error,
			&step.ErrorKind,
			&step.StartedAt,
			&step.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		if err := unmarshalJSON(input, &step.Input); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(output, &step.Output); err != nil {
			return nil, err
		}

		step.StartedAt = step.StartedAt.UTC()
		step.CompletedAt = step.CompletedAt.UTC()
		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}
