// Package action provides the built-in CRM action nodes.
package action

import (
	"errors"
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
)

const defaultEntityField = "lead_id"

var (
	// ErrMissingEntity is returned when the context has no id for the target entity.
	ErrMissingEntity = errors.New("entity id not found in context")

	// ErrMissingRecipient is returned when send_message finds no recipient.
	ErrMissingRecipient = errors.New("recipient not found in context")

	// ErrMissingCollaborator is returned when a factory was built without its collaborator.
	ErrMissingCollaborator = errors.New("collaborator not configured")
)

// entityID resolves the id of the CRM entity the action applies to.
func entityID(execCtx models.Context, field string) (string, error) {
	if field == "" {
		field = defaultEntityField
	}

	id, ok := execCtx.String(field)
	if !ok || id == "" {
		return "", protocol.Permanent(fmt.Errorf("%w: %s", ErrMissingEntity, field))
	}

	return id, nil
}

func entityFieldSchema() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Context path holding the id of the lead or client",
		"default":     defaultEntityField,
		"examples":    []string{"lead_id", "client_id", "lead.id"},
	}
}
