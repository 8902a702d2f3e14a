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

const defaultPhoneField = "phone"

type SendMessageConfig struct {
	Text        string `json:"text"         validate:"required"`
	PhoneField  string `json:"phone_field"`
	Channel     string `json:"channel"      validate:"omitempty,oneof=whatsapp email sms"`
	EntityField string `json:"entity_field"`
}

// SendMessage renders a text template and hands it to the messaging transport.
type SendMessage struct {
	config   SendMessageConfig
	messages collaborators.MessageSender
}

func (a *SendMessage) Execute(ctx context.Context, execCtx models.Context, logger *slog.Logger) (map[string]any, error) {
	if a.messages == nil {
		return nil, protocol.Permanent(ErrMissingCollaborator)
	}

	to, ok := execCtx.String(a.config.PhoneField)
	if !ok || to == "" {
		return nil, protocol.Permanent(fmt.Errorf("%w: %s", ErrMissingRecipient, a.config.PhoneField))
	}

	text, err := template.Text(a.config.Text, execCtx)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	// The entity is optional for messages
	entity, _ := execCtx.String(a.config.EntityField)

	message := collaborators.Message{
		Channel:  collaborators.Channel(a.config.Channel),
		To:       to,
		Text:     text,
		EntityID: entity,
	}

	logger.DebugContext(ctx, "sending message", "channel", message.Channel, "entity_id", entity)

	if err := a.messages.Send(ctx, message); err != nil {
		return nil, fmt.Errorf("send %s message: %w", message.Channel, err)
	}

	return map[string]any{
		"message_sent": true,
		"channel":      a.config.Channel,
		"to":           to,
		"text":         text,
	}, nil
}

type SendMessageFactory struct {
	messages collaborators.MessageSender
}

func NewSendMessageFactory(messages collaborators.MessageSender) *SendMessageFactory {
	return &SendMessageFactory{messages: messages}
}

func (f *SendMessageFactory) ID() string            { return "send_message" }
func (f *SendMessageFactory) Kind() models.NodeKind { return models.NodeKindAction }
func (f *SendMessageFactory) Name() string          { return "Send message" }

func (f *SendMessageFactory) Description() string {
	return "Sends a templated message to the contact over WhatsApp, e-mail or SMS"
}

func (f *SendMessageFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Message body, a text/template over the execution context",
				"examples":    []string{"Hi {{ .lead.name }}, thanks for reaching out!"},
			},
			"phone_field": map[string]any{
				"type":        "string",
				"description": "Context path of the recipient address",
				"default":     defaultPhoneField,
			},
			"channel": map[string]any{
				"type":    "string",
				"enum":    []string{"whatsapp", "email", "sms"},
				"default": "whatsapp",
			},
			"entity_field": entityFieldSchema(),
		},
		"required":             []string{"text"},
		"additionalProperties": false,
	}
}

func (f *SendMessageFactory) Create(config map[string]any) (protocol.Action, error) {
	var cfg SendMessageConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.PhoneField == "" {
		cfg.PhoneField = defaultPhoneField
	}

	if cfg.Channel == "" {
		cfg.Channel = string(collaborators.ChannelWhatsApp)
	}

	if cfg.EntityField == "" {
		cfg.EntityField = defaultEntityField
	}

	return &SendMessage{config: cfg, messages: f.messages}, nil
}
