// Package models defines the core domain models for CRM workflow automation
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Editable, not executable
	WorkflowStatusPublished WorkflowStatus = "published" // Executable at its latest published version
)

// Workflow is a tenant-scoped graph of trigger, condition, action and delay nodes.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"                   validate:"required,min=3"`
	Description string          `json:"description"`
	UnitID      string          `json:"unit_id"` // Tenant/unit scope, empty means every unit
	Status      WorkflowStatus  `json:"status"                 validate:"required,oneof=draft published"`
	Version     int             `json:"version"` // Latest published version, 0 when never published
	Nodes       []*WorkflowNode `json:"nodes"`
	Connections []*Connection   `json:"connections"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

// Graph returns the editable graph of the workflow.
func (w *Workflow) Graph() *Graph {
	return &Graph{
		WorkflowID:  w.ID,
		Nodes:       w.Nodes,
		Connections: w.Connections,
	}
}

// IsPublished reports whether the workflow has at least one executable version.
func (w *Workflow) IsPublished() bool {
	return w.Status == WorkflowStatusPublished && w.Version > 0
}

// WorkflowVersion is an immutable snapshot of a workflow graph taken at publish time.
// Executions pin to the version they started with.
type WorkflowVersion struct {
	WorkflowID     string          `json:"workflow_id"`
	Version        int             `json:"version"`
	UnitID         string          `json:"unit_id"`
	TriggerSubtype string          `json:"trigger_subtype"`
	Nodes          []*WorkflowNode `json:"nodes"`
	Connections    []*Connection   `json:"connections"`
	PublishedAt    time.Time       `json:"published_at"`
}

// Graph returns the snapshot graph.
func (v *WorkflowVersion) Graph() *Graph {
	return &Graph{
		WorkflowID:  v.WorkflowID,
		Version:     v.Version,
		Nodes:       v.Nodes,
		Connections: v.Connections,
	}
}

// Graph is a read-only view over nodes and connections with lookup helpers.
type Graph struct {
	WorkflowID  string
	Version     int
	Nodes       []*WorkflowNode
	Connections []*Connection
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*WorkflowNode, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// Trigger returns the first trigger node of the graph.
func (g *Graph) Trigger() (*WorkflowNode, bool) {
	for _, node := range g.Nodes {
		if node.Kind == NodeKindTrigger {
			return node, true
		}
	}

	return nil, false
}

// Outgoing returns the connections leaving the given node, ordered by id.
func (g *Graph) Outgoing(nodeID string) []*Connection {
	out := make([]*Connection, 0)

	for _, conn := range g.Connections {
		if conn.SourceNodeID == nodeID {
			out = append(out, conn)
		}
	}

	sortConnections(out)

	return out
}
