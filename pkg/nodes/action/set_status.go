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

type SetStatusConfig struct {
	Status      string `json:"status"       validate:"required"`
	EntityField string `json:"entity_field"`
}

// SetStatus moves the entity to a pipeline status.
type SetStatus struct {
	config   SetStatusConfig
	statuses collaborators.StatusSetter
}

func (a *SetStatus) Execute(ctx context.Context, execCtx models.Context, logger *slog.Logger) (map[string]any, error) {
	if a.statuses == nil {
		return nil, protocol.Permanent(ErrMissingCollaborator)
	}

	id, err := entityID(execCtx, a.config.EntityField)
	if err != nil {
		return nil, err
	}

	status, err := template.Text(a.config.Status, execCtx)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	logger.DebugContext(ctx, "setting status", "entity_id", id, "status", status)

	if err := a.statuses.SetStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("set status of %s: %w", id, err)
	}

	return map[string]any{"status": status, "entity_id": id}, nil
}

type SetStatusFactory struct {
	statuses collaborators.StatusSetter
}

func NewSetStatusFactory(statuses collaborators.StatusSetter) *SetStatusFactory {
	return &SetStatusFactory{statuses: statuses}
}

func (f *SetStatusFactory) ID() string            { return "set_status" }
func (f *SetStatusFactory) Kind() models.NodeKind { return models.NodeKindAction }
func (f *SetStatusFactory) Name() string          { return "Set status" }

func (f *SetStatusFactory) Description() string {
	return "Moves the lead or client to another pipeline status"
}

func (f *SetStatusFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Target status. Supports templating.",
				"examples":    []string{"qualified", "contacted", "lost"},
			},
			"entity_field": entityFieldSchema(),
		},
		"required":             []string{"status"},
		"additionalProperties": false,
	}
}

func (f *SetStatusFactory) Create(config map[string]any) (protocol.Action, error) {
	var cfg SetStatusConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	return &SetStatus{config: cfg, statuses: f.statuses}, nil
}
