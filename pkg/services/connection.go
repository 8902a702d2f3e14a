package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
)

// CreateConnectionRequest represents the request to connect two nodes of a workflow.
type CreateConnectionRequest struct {
	SourceNodeID string
	TargetNodeID string
	SourceHandle string
	TargetHandle string
	Condition    *models.Predicate
}

// Connection manages the edges of workflow graphs.
type Connection struct {
	persistence persistence.Persistence
}

func NewConnection(persistence persistence.Persistence) *Connection {
	return &Connection{persistence: persistence}
}

// ListConnections returns the edges of a workflow.
func (c *Connection) ListConnections(ctx context.Context, workflowID string) ([]*models.Connection, error) {
	if _, err := c.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return c.persistence.ConnectionRepository().GetConnectionsByWorkflow(ctx, workflowID)
}

// CreateConnection adds an edge. Both endpoints must be nodes of the workflow.
func (c *Connection) CreateConnection(
	ctx context.Context,
	workflowID string,
	req *CreateConnectionRequest,
) (*models.Connection, error) {
	if _, err := c.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	if req.Condition != nil {
		if err := req.Condition.Validate(); err != nil {
			return nil, NewValidationError("CreateConnection", "INVALID_CONDITION", err.Error(), ErrInvalidConnectionData)
		}
	}

	connection := &models.Connection{
		ID:           uuid.New().String(),
		WorkflowID:   workflowID,
		SourceNodeID: req.SourceNodeID,
		TargetNodeID: req.TargetNodeID,
		SourceHandle: req.SourceHandle,
		TargetHandle: req.TargetHandle,
		Condition:    req.Condition,
		CreatedAt:    time.Now().UTC(),
	}

	err := c.persistence.ConnectionRepository().SaveConnection(ctx, workflowID, connection)
	if err != nil {
		if persistence.IsInvalidConnection(err) {
			return nil, NewValidationError("CreateConnection", "INVALID_ENDPOINT",
				fmt.Sprintf("nodes %s and %s must both belong to workflow %s", req.SourceNodeID, req.TargetNodeID, workflowID),
				ErrInvalidConnectionData)
		}

		return nil, fmt.Errorf("failed to save connection: %w", err)
	}

	return connection, nil
}

// DeleteConnection removes an edge.
func (c *Connection) DeleteConnection(ctx context.Context, workflowID, connectionID string) error {
	return c.persistence.ConnectionRepository().DeleteConnection(ctx, workflowID, connectionID)
}
