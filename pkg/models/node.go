// Package models defines core node-based workflow models for graph execution
package models

import (
	"sort"
	"time"
)

// NodeKind represents the category of node.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"   // Entry point, started by a domain event or a manual call
	NodeKindAction    NodeKind = "action"    // Side effect through a registered handler
	NodeKindCondition NodeKind = "condition" // Branching on the execution context
	NodeKindDelay     NodeKind = "delay"     // Durable wait before continuing
)

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindTrigger, NodeKindAction, NodeKindCondition, NodeKindDelay:
		return true
	default:
		return false
	}
}

// Well known source handles.
const (
	HandleTrue    = "true"
	HandleFalse   = "false"
	HandleDefault = "default"
	HandleElse    = "else"
)

// NodeType builds the registry key of a (kind, subtype) pair, e.g. "action:set_status".
func NodeType(kind NodeKind, subtype string) string {
	return string(kind) + ":" + subtype
}

// WorkflowNode represents a node instance in a workflow.
type WorkflowNode struct {
	ID             string         `json:"id"                        validate:"required"`
	WorkflowID     string         `json:"workflow_id"`
	Kind           NodeKind       `json:"kind"                      validate:"required,oneof=trigger action condition delay"`
	Subtype        string         `json:"subtype"                   validate:"required"`
	Name           string         `json:"name"                      validate:"required,min=1"`
	Config         map[string]any `json:"config"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty" validate:"gte=0"` // Overrides the engine node timeout
	PositionX      int            `json:"position_x"`
	PositionY      int            `json:"position_y"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Type returns the registry key of the node.
func (n *WorkflowNode) Type() string {
	return NodeType(n.Kind, n.Subtype)
}

// Timeout returns the node specific handler timeout, or fallback when unset.
func (n *WorkflowNode) Timeout(fallback time.Duration) time.Duration {
	if n.TimeoutSeconds > 0 {
		return time.Duration(n.TimeoutSeconds) * time.Second
	}

	return fallback
}

// Connection is a directed edge between two nodes of the same workflow.
type Connection struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	SourceNodeID string     `json:"source_node_id" validate:"required"`
	TargetNodeID string     `json:"target_node_id" validate:"required"`
	SourceHandle string     `json:"source_handle,omitempty"`
	TargetHandle string     `json:"target_handle,omitempty"`
	Condition    *Predicate `json:"condition,omitempty"` // Guard evaluated against the execution context
	CreatedAt    time.Time  `json:"created_at"`
}

// IsConditional reports whether the edge carries a guard.
func (c *Connection) IsConditional() bool {
	return c.Condition != nil
}

func sortConnections(conns []*Connection) {
	sort.SliceStable(conns, func(i, j int) bool {
		return conns[i].ID < conns[j].ID
	})
}
