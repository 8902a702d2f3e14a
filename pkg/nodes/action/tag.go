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

type TagConfig struct {
	Tag         string `json:"tag"          validate:"required"`
	EntityField string `json:"entity_field"`
}

// Tag adds or removes a tag on the entity.
type Tag struct {
	config TagConfig
	remove bool
	tags   collaborators.Tagger
}

func (a *Tag) Execute(ctx context.Context, execCtx models.Context, logger *slog.Logger) (map[string]any, error) {
	if a.tags == nil {
		return nil, protocol.Permanent(ErrMissingCollaborator)
	}

	id, err := entityID(execCtx, a.config.EntityField)
	if err != nil {
		return nil, err
	}

	tag, err := template.Text(a.config.Tag, execCtx)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	if a.remove {
		logger.DebugContext(ctx, "removing tag", "entity_id", id, "tag", tag)

		if err := a.tags.RemoveTag(ctx, id, tag); err != nil {
			return nil, fmt.Errorf("remove tag %s from %s: %w", tag, id, err)
		}

		return map[string]any{"tag_removed": tag, "entity_id": id}, nil
	}

	logger.DebugContext(ctx, "adding tag", "entity_id", id, "tag", tag)

	if err := a.tags.AddTag(ctx, id, tag); err != nil {
		return nil, fmt.Errorf("add tag %s to %s: %w", tag, id, err)
	}

	return map[string]any{"tag_added": tag, "entity_id": id}, nil
}

// TagFactory serves both add_tag and remove_tag.
type TagFactory struct {
	remove bool
	tags   collaborators.Tagger
}

func NewAddTagFactory(tags collaborators.Tagger) *TagFactory {
	return &TagFactory{tags: tags}
}

func NewRemoveTagFactory(tags collaborators.Tagger) *TagFactory {
	return &TagFactory{remove: true, tags: tags}
}

func (f *TagFactory) ID() string {
	if f.remove {
		return "remove_tag"
	}

	return "add_tag"
}

func (f *TagFactory) Kind() models.NodeKind { return models.NodeKindAction }

func (f *TagFactory) Name() string {
	if f.remove {
		return "Remove tag"
	}

	return "Add tag"
}

func (f *TagFactory) Description() string {
	if f.remove {
		return "Removes a tag from the lead or client"
	}

	return "Adds a tag to the lead or client"
}

func (f *TagFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tag": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"hot", "follow-up"},
			},
			"entity_field": entityFieldSchema(),
		},
		"required":             []string{"tag"},
		"additionalProperties": false,
	}
}

func (f *TagFactory) Create(config map[string]any) (protocol.Action, error) {
	var cfg TagConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	return &Tag{config: cfg, remove: f.remove, tags: f.tags}, nil
}
