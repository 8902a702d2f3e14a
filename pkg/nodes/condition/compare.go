package condition

import (
	"context"
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
)

type FieldCompareConfig struct {
	Predicate *models.Predicate `json:"predicate" validate:"required"`
}

// FieldCompare evaluates an arbitrary predicate.
type FieldCompare struct {
	predicate *models.Predicate
}

func (c *FieldCompare) Evaluate(_ context.Context, execCtx models.Context) (string, error) {
	ok, err := c.predicate.Evaluate(execCtx)
	if err != nil {
		return "", protocol.Permanent(err)
	}

	return handle(ok), nil
}

type FieldCompareFactory struct{}

func NewFieldCompareFactory() *FieldCompareFactory {
	return &FieldCompareFactory{}
}

func (f *FieldCompareFactory) ID() string            { return "field_compare" }
func (f *FieldCompareFactory) Kind() models.NodeKind { return models.NodeKindCondition }
func (f *FieldCompareFactory) Name() string          { return "Compare fields" }

func (f *FieldCompareFactory) Description() string {
	return "Routes to true when the predicate holds for the execution context"
}

func (f *FieldCompareFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"predicate": PredicateSchema(),
		},
		"required":             []string{"predicate"},
		"additionalProperties": false,
	}
}

func (f *FieldCompareFactory) Create(config map[string]any) (protocol.Condition, error) {
	var cfg FieldCompareConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Predicate.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidConfig, err)
	}

	return &FieldCompare{predicate: cfg.Predicate}, nil
}

// PredicateSchema describes a models.Predicate. Nesting is left open to keep the schema finite.
func PredicateSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{"type": "string"},
			"operator": map[string]any{
				"type": "string",
				"enum": []string{
					"eq", "neq", "gt", "gte", "lt", "lte", "contains", "in",
					"exists", "not_exists", "truthy", "falsy",
				},
			},
			"value": map[string]any{},
			"all":   map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
			"any":   map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
			"not":   map[string]any{"type": "object"},
		},
		"examples": []map[string]any{
			{"field": "lead.score", "operator": "gte", "value": 50},
			{"any": []map[string]any{
				{"field": "lead.source", "operator": "eq", "value": "web"},
				{"field": "lead.source", "operator": "eq", "value": "ads"},
			}},
		},
	}
}
