package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
)

// ConfigValidator checks a node config against the registered (kind, subtype).
type ConfigValidator interface {
	ValidateConfig(kind models.NodeKind, subtype string, config map[string]any) error
}

// CreateNodeRequest represents the request to create a new workflow node.
type CreateNodeRequest struct {
	Kind           models.NodeKind
	Subtype        string
	Name           string
	Config         map[string]any
	TimeoutSeconds int
	PositionX      int
	PositionY      int
}

// UpdateNodeRequest represents the request to update an existing workflow node.
// Kind and subtype are fixed at creation.
type UpdateNodeRequest struct {
	Name           string
	Config         map[string]any
	TimeoutSeconds int
	PositionX      int
	PositionY      int
}

// Node handles node-related business operations.
type Node struct {
	persistence persistence.Persistence
	validator   ConfigValidator
}

// NewNode creates a new node service validating configs with validator.
func NewNode(persistence persistence.Persistence, validator ConfigValidator) *Node {
	return &Node{
		persistence: persistence,
		validator:   validator,
	}
}

// CreateNode creates a new node in the specified workflow.
func (n *Node) CreateNode(ctx context.Context, workflowID string, req *CreateNodeRequest) (*models.WorkflowNode, error) {
	if _, err := n.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	if !req.Kind.Valid() {
		return nil, NewValidationError("CreateNode", "INVALID_NODE_KIND",
			fmt.Sprintf("invalid node kind '%s'", req.Kind), ErrInvalidNode)
	}

	if req.Config == nil {
		req.Config = make(map[string]any)
	}

	if err := n.validateConfig("CreateNode", req.Kind, req.Subtype, req.Config); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	node := &models.WorkflowNode{
		ID:             uuid.New().String(),
		WorkflowID:     workflowID,
		Kind:           req.Kind,
		Subtype:        req.Subtype,
		Name:           req.Name,
		Config:         req.Config,
		TimeoutSeconds: req.TimeoutSeconds,
		PositionX:      req.PositionX,
		PositionY:      req.PositionY,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := n.persistence.NodeRepository().SaveNode(ctx, workflowID, node)
	if err != nil {
		return nil, fmt.Errorf("failed to save node: %w", err)
	}

	return node, nil
}

// GetNode retrieves a specific node from the specified workflow.
func (n *Node) GetNode(ctx context.Context, workflowID, nodeID string) (*models.WorkflowNode, error) {
	return n.persistence.NodeRepository().GetNodeByWorkflow(ctx, workflowID, nodeID)
}

// UpdateNode updates an existing node in the specified workflow.
func (n *Node) UpdateNode(ctx context.Context, workflowID, nodeID string, req *UpdateNodeRequest) (*models.WorkflowNode, error) {
	existing, err := n.persistence.NodeRepository().GetNodeByWorkflow(ctx, workflowID, nodeID)
	if err != nil {
		return nil, err
	}

	if req.Config == nil {
		req.Config = make(map[string]any)
	}

	if err := n.validateConfig("UpdateNode", existing.Kind, existing.Subtype, req.Config); err != nil {
		return nil, err
	}

	existing.Name = req.Name
	existing.Config = req.Config
	existing.TimeoutSeconds = req.TimeoutSeconds
	existing.PositionX = req.PositionX
	existing.PositionY = req.PositionY
	existing.UpdatedAt = time.Now().UTC()

	err = n.persistence.NodeRepository().UpdateNode(ctx, workflowID, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to update node: %w", err)
	}

	return existing, nil
}

// DeleteNode deletes a node and all its connections from the specified workflow.
func (n *Node) DeleteNode(ctx context.Context, workflowID, nodeID string) error {
	if _, err := n.persistence.NodeRepository().GetNodeByWorkflow(ctx, workflowID, nodeID); err != nil {
		return err
	}

	err := n.persistence.NodeRepository().DeleteNode(ctx, workflowID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	return nil
}

func (n *Node) validateConfig(op string, kind models.NodeKind, subtype string, config map[string]any) error {
	if n.validator == nil {
		return nil
	}

	if err := n.validator.ValidateConfig(kind, subtype, config); err != nil {
		return &ServiceError{
			Op:      op,
			Code:    "INVALID_NODE_CONFIG",
			Message: fmt.Sprintf("%s: %v", models.NodeType(kind, subtype), err),
			Err:     fmt.Errorf("%w: %w", ErrInvalidNode, err),
		}
	}

	return nil
}
