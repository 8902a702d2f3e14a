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

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
	nodes  *NodeRepository
	conns  *ConnectionRepository
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
		nodes:  NewNodeRepository(db, logger),
		conns:  NewConnectionRepository(db, logger),
	}
}

const workflowColumns = `id, name, description, unit_id, status, version, created_at, updated_at, published_at`

var workflowSorts = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
}

// ListWorkflows returns one page of workflows without their graph.
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	opts.Limit, opts.Offset = persistence.NormalizePage(opts.Limit, opts.Offset)

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	column, ok := workflowSorts[opts.SortBy]
	if !ok {
		return nil, fmt.Errorf("invalid sort field: %s", opts.SortBy)
	}

	direction := "DESC"
	if opts.SortOrder == "asc" {
		direction = "ASC"
	}

	where := "WHERE ($1 = '' OR unit_id = $1) AND ($2 = '' OR status = $2)"

	status := ""
	if opts.Status != nil {
		status = string(*opts.Status)
	}

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows "+where, opts.UnitID, status).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	// #nosec G202 -- column and direction come from allowlists
	query := "SELECT " + workflowColumns + " FROM workflows " + where +
		" ORDER BY " + column + " " + direction + ", id LIMIT $3 OFFSET $4"

	rows, err := r.db.QueryContext(ctx, query, opts.UnitID, status, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return &persistence.WorkflowListResult{
		Workflows:   workflows,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(workflows)) < total,
	}, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = $1", id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	workflow.Nodes, err = r.nodes.list(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow.Connections, err = r.conns.list(ctx, id)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// Save upserts the workflow attributes.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			unit_id = EXCLUDED.unit_id,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at
	`

	_, err := r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.UnitID,
		workflow.Status,
		workflow.Version,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		nullTime(workflow.PublishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// Delete removes the workflow, cascading to nodes, connections and versions.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	var locked string

	err = tx.QueryRowContext(ctx, "SELECT id FROM workflows WHERE id = $1 FOR UPDATE", id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to lock workflow: %w", err)
	}

	var live int

	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_executions
		WHERE workflow_id = $1 AND status IN ('pending', 'running', 'paused')
	`, id).Scan(&live)
	if err != nil {
		return fmt.Errorf("failed to count live executions: %w", err)
	}

	if live > 0 {
		return &persistence.IntegrityError{Op: "Delete", Entity: "workflow", ID: id, Err: persistence.ErrLiveExecutions}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Publish stores the snapshot and flips the workflow to published in one transaction.
func (r *WorkflowRepository) Publish(ctx context.Context, snapshot *models.WorkflowVersion) error {
	nodes, err := marshalJSON(snapshot.Nodes)
	if err != nil {
		return err
	}

	connections, err := marshalJSON(snapshot.Connections)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	result, err := tx.ExecContext(ctx, `
		UPDATE workflows SET status = $2, version = $3, published_at = $4, updated_at = $5
		WHERE id = $1
	`, snapshot.WorkflowID, models.WorkflowStatusPublished, snapshot.Version, snapshot.PublishedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark workflow published: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Publish", snapshot.WorkflowID, persistence.ErrWorkflowNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_versions (workflow_id, version, unit_id, trigger_subtype, nodes, connections, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, snapshot.WorkflowID, snapshot.Version, snapshot.UnitID, snapshot.TriggerSubtype, nodes, connections, snapshot.PublishedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return &persistence.IntegrityError{Op: "Publish", Entity: "workflow_version", ID: snapshot.WorkflowID, Err: err}
		}

		return fmt.Errorf("failed to save workflow version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

const versionColumns = `workflow_id, version, unit_id, trigger_subtype, nodes, connections, published_at`

func (r *WorkflowRepository) GetVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowVersion, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM workflow_versions WHERE workflow_id = $1 AND version = $2",
		workflowID, version)

	snapshot, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetVersion", workflowID, persistence.ErrWorkflowVersionNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow version: %w", err)
	}

	return snapshot, nil
}

func (r *WorkflowRepository) LatestVersion(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	var version int

	err := r.db.QueryRowContext(ctx, "SELECT version FROM workflows WHERE id = $1", workflowID).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("LatestVersion", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to query workflow version: %w", err)
	}

	if version == 0 {
		return nil, persistence.NewWorkflowError("LatestVersion", workflowID, persistence.ErrWorkflowVersionNotFound)
	}

	return r.GetVersion(ctx, workflowID, version)
}

// PublishedByTrigger joins every published workflow to its current snapshot.
func (r *WorkflowRepository) PublishedByTrigger(ctx context.Context, triggerSubtype, unitID string) ([]*models.WorkflowVersion, error) {
	query := `
		SELECT v.workflow_id, v.version, v.unit_id, v.trigger_subtype, v.nodes, v.connections, v.published_at
		FROM workflows w
		JOIN workflow_versions v ON v.workflow_id = w.id AND v.version = w.version
		WHERE w.status = 'published'
		  AND v.trigger_subtype = $1
		  AND (w.unit_id = '' OR w.unit_id = $2)
		ORDER BY w.created_at, w.id
	`

	rows, err := r.db.QueryContext(ctx, query, triggerSubtype, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query published workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	snapshots := make([]*models.WorkflowVersion, 0)

	for rows.Next() {
		snapshot, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow version: %w", err)
		}

		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow versions: %w", err)
	}

	return snapshots, nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow    models.Workflow
		publishedAt sql.NullTime
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.UnitID,
		&workflow.Status,
		&workflow.Version,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.CreatedAt = workflow.CreatedAt.UTC()
	workflow.UpdatedAt = workflow.UpdatedAt.UTC()
	workflow.PublishedAt = timePtr(publishedAt)
	workflow.Nodes = make([]*models.WorkflowNode, 0)
	workflow.Connections = make([]*models.Connection, 0)

	return &workflow, nil
}

func scanVersion(row scanner) (*models.WorkflowVersion, error) {
	var (
		snapshot           models.WorkflowVersion
		nodes, connections []byte
	)

	err := row.Scan(
		&snapshot.WorkflowID,
		&snapshot.Version,
		&snapshot.UnitID,
		&snapshot.TriggerSubtype,
		&nodes,
		&connections,
		&snapshot.PublishedAt,
	)
	if err != nil {
		return nil, err
	}

	snapshot.PublishedAt = snapshot.PublishedAt.UTC()

	if err := unmarshalJSON(nodes, &snapshot.Nodes); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(connections, &snapshot.Connections); err != nil {
		return nil, err
	}

	return &snapshot, nil
}
