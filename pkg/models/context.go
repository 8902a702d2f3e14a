package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Context is the mutable data bag of an execution. Trigger payload, handler outputs and
// variables live here and are addressed by dot paths such as "lead.phone" or "items.0.id".
type Context map[string]any

// NewContext seeds an execution context from a trigger payload.
func NewContext(payload map[string]any) Context {
	ctx := make(Context, len(payload)+1)
	for k, v := range payload {
		ctx[k] = v
	}

	ctx["trigger"] = cloneValue(map[string]any(payload))

	return ctx
}

// Lookup resolves a dot path.
func (c Context) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = map[string]any(c)

	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[part]
			if !ok {
				return nil, false
			}

			current = value
		case Context:
			value, ok := node[part]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}

			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// String resolves a path and formats the value as a string.
func (c Context) String(path string) (string, bool) {
	value, ok := c.Lookup(path)
	if !ok || value == nil {
		return "", false
	}

	if s, ok := value.(string); ok {
		return s, true
	}

	return formatScalar(value), true
}

// Merge copies values into the top level of the context.
func (c Context) Merge(values map[string]any) {
	for k, v := range values {
		c[k] = v
	}
}

// SetNodeOutput stores a node output under nodes.<node_id>.
func (c Context) SetNodeOutput(nodeID string, output map[string]any) {
	nodes, ok := c["nodes"].(map[string]any)
	if !ok {
		nodes = make(map[string]any)
		c["nodes"] = nodes
	}

	nodes[nodeID] = output
}

// Clone returns a deep copy of maps and slices.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}

	out, _ := cloneValue(map[string]any(c)).(map[string]any)

	return Context(out)
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = cloneValue(item)
		}

		return out
	case Context:
		return cloneValue(map[string]any(v))
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}

		return out
	default:
		return v
	}
}

func formatScalar(value any) string {
	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
