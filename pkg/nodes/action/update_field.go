package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/collaborators"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
	"github.com/dukex/crmflow/pkg/template"
)

type UpdateFieldConfig struct {
	Field       string `json:"field"        validate:"required"`
	Value       any    `json:"value"`
	EntityField string `json:"entity_field"`
}

// UpdateField writes one contact field. String values are templated.
type UpdateField struct {
	config UpdateFieldConfig
	fields collaborators.FieldMutator
}

func (a *UpdateField) Execute(ctx context.Context, execCtx models.Context, logger *slog.Logger) (map[string]any, error) {
	if a.fields == nil {
		return nil, protocol.Permanent(ErrMissingCollaborator)
	}

	id, err := entityID(execCtx, a.config.EntityField)
	if err != nil {
		return nil, err
	}

	value, err := template.Value(a.config.Value, execCtx)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	logger.DebugContext(ctx, "updating contact field", "entity_id", id, "field", a.config.Field)

	if err := a.fields.SetField(ctx, id, a.config.Field, value); err != nil {
		return nil, fmt.Errorf("set field %s of %s: %w", a.config.Field, id, err)
	}

	return map[string]any{a.config.Field: value, "entity_id": id}, nil
}

type UpdateFieldFactory struct {
	fields collaborators.FieldMutator
}

func NewUpdateFieldFactory(fields collaborators.FieldMutator) *UpdateFieldFactory {
	return &UpdateFieldFactory{fields: fields}
}

func (f *UpdateFieldFactory) ID() string            { return "update_contact_field" }
func (f *UpdateFieldFactory) Kind() models.NodeKind { return models.NodeKindAction }
func (f *UpdateFieldFactory) Name() string          { return "Update contact field" }

func (f *UpdateFieldFactory) Description() string {
	return "Writes a value to a field of the lead or client"
}

func (f *UpdateFieldFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"city", "next_contact_at"},
			},
			"value": map[string]any{
				"description": "New value. String values support templating.",
			},
			"entity_field": entityFieldSchema(),
		},
		"required":             []string{"field", "value"},
		"additionalProperties": false,
	}
}

func (f *UpdateFieldFactory) Create(config map[string]any) (protocol.Action, error) {
	var cfg UpdateFieldConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	return &UpdateField{config: cfg, fields: f.fields}, nil
}
