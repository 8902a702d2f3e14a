// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test WorkflowNode with default values that can be overridden.
// The default is an add_tag action.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	now := time.Now().UTC()

	node := &models.WorkflowNode{
		ID:        uuid.New().String(),
		Kind:      models.NodeKindAction,
		Subtype:   "add_tag",
		Name:      "Test Node",
		Config:    map[string]any{"tag": "test"},
		PositionX: 100,
		PositionY: 200,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithTrigger configures the node as a trigger of subtype.
func WithTrigger(subtype string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Kind = models.NodeKindTrigger
		n.Subtype = subtype
		n.Config = map[string]any{}
	}
}

// WithAction configures the node as an action of subtype.
func WithAction(subtype string, config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Kind = models.NodeKindAction
		n.Subtype = subtype
		n.Config = config
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config = config
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Name = name
	}
}

// WithID sets the node ID.
func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// CreateTestWorkflow creates an empty draft workflow scoped to unitID.
func CreateTestWorkflow(id, unitID string) *models.Workflow {
	now := time.Now().UTC()

	return &models.Workflow{
		ID:          id,
		Name:        "Test Workflow " + id,
		Description: "A workflow for testing",
		UnitID:      unitID,
		Status:      models.WorkflowStatusDraft,
		Nodes:       []*models.WorkflowNode{},
		Connections: []*models.Connection{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CreateTestConnection creates a test connection between two nodes.
func CreateTestConnection(workflowID, sourceNodeID, targetNodeID string) *models.Connection {
	return &models.Connection{
		ID:           uuid.New().String(),
		WorkflowID:   workflowID,
		SourceNodeID: sourceNodeID,
		TargetNodeID: targetNodeID,
		CreatedAt:    time.Now().UTC(),
	}
}

// CreateTestVersion snapshots the graph of workflow as its next published version.
// The workflow must hold exactly one trigger.
func CreateTestVersion(workflow *models.Workflow) *models.WorkflowVersion {
	version := &models.WorkflowVersion{
		WorkflowID:  workflow.ID,
		Version:     workflow.Version + 1,
		UnitID:      workflow.UnitID,
		Nodes:       workflow.Nodes,
		Connections: workflow.Connections,
		PublishedAt: time.Now().UTC(),
	}

	if trigger, ok := workflow.Graph().Trigger(); ok {
		version.TriggerSubtype = trigger.Subtype
	}

	for _, node := range version.Nodes {
		node.WorkflowID = workflow.ID
	}

	return version
}
