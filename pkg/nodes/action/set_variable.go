package action

import (
	"context"
	"log/slog"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
	"github.com/dukex/crmflow/pkg/template"
)

type SetVariableConfig struct {
	Key   string `json:"key"   validate:"required"`
	Value any    `json:"value"`
}

// SetVariable only writes to the execution context.
type SetVariable struct {
	config SetVariableConfig
}

func (a *SetVariable) Execute(ctx context.Context, execCtx models.Context, logger *slog.Logger) (map[string]any, error) {
	value, err := template.Value(a.config.Value, execCtx)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	logger.DebugContext(ctx, "setting variable", "key", a.config.Key)

	return map[string]any{a.config.Key: value}, nil
}

type SetVariableFactory struct{}

func NewSetVariableFactory() *SetVariableFactory {
	return &SetVariableFactory{}
}

func (f *SetVariableFactory) ID() string            { return "set_variable" }
func (f *SetVariableFactory) Kind() models.NodeKind { return models.NodeKindAction }
func (f *SetVariableFactory) Name() string          { return "Set variable" }

func (f *SetVariableFactory) Description() string {
	return "Stores a value in the execution context for later nodes"
}

func (f *SetVariableFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":      "string",
				"minLength": 1,
				"pattern":   "^[A-Za-z_][A-Za-z0-9_]*$",
			},
			"value": map[string]any{
				"description": "Value to store. String values support templating.",
			},
		},
		"required":             []string{"key"},
		"additionalProperties": false,
	}
}

func (f *SetVariableFactory) Create(config map[string]any) (protocol.Action, error) {
	var cfg SetVariableConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	return &SetVariable{config: cfg}, nil
}
