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

// ConnectionRepository handles connection-related database operations.
type ConnectionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewConnectionRepository creates a new connection repository.
func NewConnectionRepository(db *sql.DB, logger *slog.Logger) *ConnectionRepository {
	return &ConnectionRepository{db: db, logger: logger}
}

const connectionColumns = `id, workflow_id, source_node_id, target_node_id, source_handle, target_handle, condition, created_at`

func (cr *ConnectionRepository) list(ctx context.Context, workflowID string) ([]*models.Connection, error) {
	rows, err := cr.db.QueryContext(ctx,
		"SELECT "+connectionColumns+" FROM workflow_connections WHERE workflow_id = $1 ORDER BY id", workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}

	defer closeRows(ctx, cr.logger, rows)

	connections := make([]*models.Connection, 0)

	for rows.Next() {
		connection, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}

		connections = append(connections, connection)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return connections, nil
}

func (cr *ConnectionRepository) GetConnectionsByWorkflow(ctx context.Context, workflowID string) ([]*models.Connection, error) {
	exists, err := workflowExists(ctx, cr.db, workflowID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, persistence.NewWorkflowError("GetConnectionsByWorkflow", workflowID, persistence.ErrWorkflowNotFound)
	}

	return cr.list(ctx, workflowID)
}

func (cr *ConnectionRepository) GetConnection(ctx context.Context, workflowID, connectionID string) (*models.Connection, error) {
	row := cr.db.QueryRowContext(ctx,
		"SELECT "+connectionColumns+" FROM workflow_connections WHERE workflow_id = $1 AND id = $2",
		workflowID, connectionID)

	connection, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ConnectionError{Op: "GetConnection", WorkflowID: workflowID, ConnectionID: connectionID, Err: persistence.ErrConnectionNotFound}
		}

		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	return connection, nil
}

// SaveConnection upserts a connection. The composite foreign keys reject endpoints outside the workflow.
func (cr *ConnectionRepository) SaveConnection(ctx context.Context, workflowID string, connection *models.Connection) error {
	exists, err := workflowExists(ctx, cr.db, workflowID)
	if err != nil {
		return err
	}

	if !exists {
		return persistence.NewWorkflowError("SaveConnection", workflowID, persistence.ErrWorkflowNotFound)
	}

	var condition any

	if connection.Condition != nil {
		encoded, err := marshalJSON(connection.Condition)
		if err != nil {
			return err
		}

		condition = encoded
	}

	connection.WorkflowID = workflowID
	if connection.CreatedAt.IsZero() {
		connection.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workflow_connections (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id, id) DO UPDATE SET
			source_node_id = EXCLUDED.source_node_id,
			target_node_id = EXCLUDED.target_node_id,
			source_handle = EXCLUDED.source_handle,
			target_handle = EXCLUDED.target_handle,
			condition = EXCLUDED.condition
	`

	_, err = cr.db.ExecContext(ctx, query,
		connection.ID,
		workflowID,
		connection.SourceNodeID,
		connection.TargetNodeID,
		connection.SourceHandle,
		connection.TargetHandle,
		condition,
		connection.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return &persistence.ConnectionError{Op: "SaveConnection", WorkflowID: workflowID, ConnectionID: connection.ID, Err: persistence.ErrInvalidConnection}
		}

		return fmt.Errorf("failed to save connection: %w", err)
	}

	return nil
}

func (cr *ConnectionRepository) DeleteConnection(ctx context.Context, workflowID, connectionID string) error {
	result, err := cr.db.ExecContext(ctx,
		"DELETE FROM workflow_connections WHERE workflow_id = $1 AND id = $2", workflowID, connectionID)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &persistence.ConnectionError{Op: "DeleteConnection", WorkflowID: workflowID, ConnectionID: connectionID, Err: persistence.ErrConnectionNotFound}
	}

	return nil
}

func scanConnection(row scanner) (*models.Connection, error) {
	var (
		connection models.Connection
		condition  []byte
	)

	err := row.Scan(
		&connection.ID,
		&connection.WorkflowID,
		&connection.SourceNodeID,
		&connection.TargetNodeID,
		&connection.SourceHandle,
		&connection.TargetHandle,
		&condition,
		&connection.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	connection.CreatedAt = connection.CreatedAt.UTC()

	if len(condition) > 0 {
		connection.Condition = &models.Predicate{}
		if err := unmarshalJSON(condition, connection.Condition); err != nil {
			return nil, err
		}
	}

	return &connection, nil
}
