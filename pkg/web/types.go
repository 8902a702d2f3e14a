// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/dukex/crmflow/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string `json:"name"        validate:"required,min=3"`
	Description string `json:"description"`
	UnitID      string `json:"unit_id"`
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name        *string `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string `json:"description,omitempty"`
	UnitID      *string `json:"unit_id,omitempty"`
}

// CreateNodeRequest represents the request body for creating a new workflow node.
type CreateNodeRequest struct {
	Kind           string         `json:"kind"            validate:"required,oneof=trigger action condition delay"`
	Subtype        string         `json:"subtype"         validate:"required"`
	Name           string         `json:"name"            validate:"required,min=1"`
	Config         map[string]any `json:"config"`
	TimeoutSeconds int            `json:"timeout_seconds" validate:"gte=0"`
	PositionX      int            `json:"position_x"`
	PositionY      int            `json:"position_y"`
}

// UpdateNodeRequest represents the request body for updating an existing workflow node.
// Kind and subtype cannot be changed.
type UpdateNodeRequest struct {
	Name           string         `json:"name"            validate:"required,min=1"`
	Config         map[string]any `json:"config"`
	TimeoutSeconds int            `json:"timeout_seconds" validate:"gte=0"`
	PositionX      int            `json:"position_x"`
	PositionY      int            `json:"position_y"`
}

// CreateConnectionRequest represents the request body for connecting two nodes.
type CreateConnectionRequest struct {
	SourceNodeID string            `json:"source_node_id" validate:"required"`
	TargetNodeID string            `json:"target_node_id" validate:"required"`
	SourceHandle string            `json:"source_handle"`
	TargetHandle string            `json:"target_handle"`
	Condition    *models.Predicate `json:"condition,omitempty"`
}

// ExecuteWorkflowRequest carries the trigger payload of a manual execution.
type ExecuteWorkflowRequest struct {
	TriggerPayload map[string]any `json:"trigger_payload"`
}

// ExecuteWorkflowResponse is returned once the execution is accepted.
type ExecuteWorkflowResponse struct {
	ExecutionID     string                 `json:"execution_id"`
	WorkflowID      string                 `json:"workflow_id"`
	WorkflowVersion int                    `json:"workflow_version"`
	Status          models.ExecutionStatus `json:"status"`
}

// NodeResponse represents the filtered response for a node.
type NodeResponse struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Kind           string         `json:"kind"`
	Subtype        string         `json:"subtype"`
	Name           string         `json:"name"`
	Config         map[string]any `json:"config"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	PositionX      int            `json:"position_x"`
	PositionY      int            `json:"position_y"`
}

// TransformNodeResponse transforms a WorkflowNode into a NodeResponse.
func TransformNodeResponse(node *models.WorkflowNode) NodeResponse {
	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	return NodeResponse{
		ID:             node.ID,
		Type:           node.Type(),
		Kind:           string(node.Kind),
		Subtype:        node.Subtype,
		Name:           node.Name,
		Config:         config,
		TimeoutSeconds: node.TimeoutSeconds,
		PositionX:      node.PositionX,
		PositionY:      node.PositionY,
	}
}
