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

// NodeRepository handles node-related database operations.
type NodeRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewNodeRepository creates a new node repository.
func NewNodeRepository(db *sql.DB, logger *slog.Logger) *NodeRepository {
	return &NodeRepository{db: db, logger: logger}
}

const nodeColumns = `id, workflow_id, kind, subtype, name, config, timeout_seconds, position_x, position_y, created_at, updated_at`

func (nr *NodeRepository) list(ctx context.Context, workflowID string) ([]*models.WorkflowNode, error) {
	rows, err := nr.db.QueryContext(ctx,
		"SELECT "+nodeColumns+" FROM workflow_nodes WHERE workflow_id = $1 ORDER BY created_at, id", workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer closeRows(ctx, nr.logger, rows)

	nodes := make([]*models.WorkflowNode, 0)

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

func (nr *NodeRepository) GetNodesByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowNode, error) {
	exists, err := workflowExists(ctx, nr.db, workflowID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, persistence.NewWorkflowError("GetNodesByWorkflow", workflowID, persistence.ErrWorkflowNotFound)
	}

	return nr.list(ctx, workflowID)
}

func (nr *NodeRepository) GetNodeByWorkflow(ctx context.Context, workflowID, nodeID string) (*models.WorkflowNode, error) {
	row := nr.db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM workflow_nodes WHERE workflow_id = $1 AND id = $2", workflowID, nodeID)

	node, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.NodeError{Op: "GetNodeByWorkflow", WorkflowID: workflowID, NodeID: nodeID, Err: persistence.ErrNodeNotFound}
		}

		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	return node, nil
}

// SaveNode saves a node to the database (insert or update).
func (nr *NodeRepository) SaveNode(ctx context.Context, workflowID string, node *models.WorkflowNode) error {
	exists, err := workflowExists(ctx, nr.db, workflowID)
	if err != nil {
		return err
	}

	if !exists {
		return persistence.NewWorkflowError("SaveNode", workflowID, persistence.ErrWorkflowNotFound)
	}

	configJSON, err := nodeConfig(node)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	node.WorkflowID = workflowID
	node.UpdatedAt = now

	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}

	query := `
		INSERT INTO workflow_nodes (` + nodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workflow_id, id) DO UPDATE SET
			kind = EXCLUDED.kind,
			subtype = EXCLUDED.subtype,
			name = EXCLUDED.name,
			config = EXCLUDED.config,
			timeout_seconds = EXCLUDED.timeout_seconds,
			position_x = EXCLUDED.position_x,
			position_y = EXCLUDED.position_y,
			updated_at = EXCLUDED.updated_at
	`

	_, err = nr.db.ExecContext(ctx, query,
		node.ID,
		workflowID,
		node.Kind,
		node.Subtype,
		node.Name,
		configJSON,
		node.TimeoutSeconds,
		node.PositionX,
		node.PositionY,
		node.CreatedAt,
		node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save node: %w", err)
	}

	return nil
}

// UpdateNode updates an existing node.
func (nr *NodeRepository) UpdateNode(ctx context.Context, workflowID string, node *models.WorkflowNode) error {
	configJSON, err := nodeConfig(node)
	if err != nil {
		return err
	}

	node.WorkflowID = workflowID
	node.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE workflow_nodes SET
			kind = $3, subtype = $4, name = $5, config = $6, timeout_seconds = $7,
			position_x = $8, position_y = $9, updated_at = $10
		WHERE workflow_id = $1 AND id = $2
		RETURNING created_at
	`

	err = nr.db.QueryRowContext(ctx, query,
		workflowID,
		node.ID,
		node.Kind,
		node.Subtype,
		node.Name,
		configJSON,
		node.TimeoutSeconds,
		node.PositionX,
		node.PositionY,
		node.UpdatedAt,
	).Scan(&node.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &persistence.NodeError{Op: "UpdateNode", WorkflowID: workflowID, NodeID: node.ID, Err: persistence.ErrNodeNotFound}
		}

		return fmt.Errorf("failed to update node: %w", err)
	}

	node.CreatedAt = node.CreatedAt.UTC()

	return nil
}

// DeleteNode deletes a node; its connections go with it through ON DELETE CASCADE.
func (nr *NodeRepository) DeleteNode(ctx context.Context, workflowID, nodeID string) error {
	result, err := nr.db.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1 AND id = $2", workflowID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &persistence.NodeError{Op: "DeleteNode", WorkflowID: workflowID, NodeID: nodeID, Err: persistence.ErrNodeNotFound}
	}

	return nil
}

func nodeConfig(node *models.WorkflowNode) ([]byte, error) {
	if node.Config == nil {
		return []byte("{}"), nil
	}

	return marshalJSON(node.Config)
}

func scanNode(row scanner) (*models.WorkflowNode, error) {
	var (
		node       models.WorkflowNode
		configJSON []byte
	)

	err := row.Scan(
		&node.ID,
		&node.WorkflowID,
		&node.Kind,
		&node.Subtype,
		&node.Name,
		&configJSON,
		&node.TimeoutSeconds,
		&node.PositionX,
		&node.PositionY,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	node.CreatedAt = node.CreatedAt.UTC()
	node.UpdatedAt = node.UpdatedAt.UTC()

	if err := unmarshalJSON(configJSON, &node.Config); err != nil {
		return nil, err
	}

	return &node, nil
}
