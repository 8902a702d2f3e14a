package condition

import (
	"context"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
)

type SwitchConfig struct {
	Field string            `json:"field" validate:"required"`
	Cases map[string]string `json:"cases" validate:"required,min=1,dive,keys,required,endkeys,required"`
}

// Switch routes to the handle mapped to the field value, or to the default handle.
type Switch struct {
	field string
	cases map[string]string
}

func (c *Switch) Evaluate(_ context.Context, execCtx models.Context) (string, error) {
	value, ok := execCtx.String(c.field)
	if !ok {
		return models.HandleDefault, nil
	}

	if handle, exists := c.cases[value]; exists {
		return handle, nil
	}

	return models.HandleDefault, nil
}

type SwitchFactory struct{}

func NewSwitchFactory() *SwitchFactory {
	return &SwitchFactory{}
}

func (f *SwitchFactory) ID() string            { return "switch" }
func (f *SwitchFactory) Kind() models.NodeKind { return models.NodeKindCondition }
func (f *SwitchFactory) Name() string          { return "Switch" }

func (f *SwitchFactory) Description() string {
	return "Multi-way branching on a context value, falling back to the default handle"
}

func (f *SwitchFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Context path of the value to switch on",
				"examples":    []string{"lead.status", "lead.source"},
			},
			"cases": map[string]any{
				"type":                 "object",
				"minProperties":        1,
				"additionalProperties": map[string]any{"type": "string", "minLength": 1},
				"description":          "Value to source handle mapping",
				"examples": []map[string]any{
					{"web": "inbound", "ads": "paid"},
				},
			},
		},
		"required":             []string{"field", "cases"},
		"additionalProperties": false,
	}
}

func (f *SwitchFactory) Create(config map[string]any) (protocol.Condition, error) {
	var cfg SwitchConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	return &Switch{field: cfg.Field, cases: cfg.Cases}, nil
}
