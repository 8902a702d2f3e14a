// Package protocol defines the interfaces and contracts for pluggable nodes.
package protocol

import (
	"github.com/dukex/crmflow/pkg/models"
)

// NodeFactory provides metadata about a node subtype.
type NodeFactory interface {
	// ID returns the subtype handled by this factory, e.g. "set_status"
	ID() string

	// Kind returns the node kind the subtype belongs to
	Kind() models.NodeKind

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any
}

// NodeType describes a registered (kind, subtype) pair.
type NodeType struct {
	Type        string          `json:"type"`
	Kind        models.NodeKind `json:"kind"`
	Subtype     string          `json:"subtype"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      map[string]any  `json:"schema"`
}

// Describe builds the NodeType of a factory.
func Describe(factory NodeFactory) NodeType {
	return NodeType{
		Type:        models.NodeType(factory.Kind(), factory.ID()),
		Kind:        factory.Kind(),
		Subtype:     factory.ID(),
		Name:        factory.Name(),
		Description: factory.Description(),
		Schema:      factory.Schema(),
	}
}
