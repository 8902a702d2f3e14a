// Package collaborators defines the CRM side effects action handlers depend on.
package collaborators

import "context"

// Channel is an outbound messaging channel.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
)

// Message is an outbound message handed to the messaging transport.
type Message struct {
	Channel  Channel `json:"channel"`
	To       string  `json:"to"`
	Text     string  `json:"text"`
	EntityID string  `json:"entity_id,omitempty"`
}

// MessageSender delivers outbound messages.
type MessageSender interface {
	Send(ctx context.Context, message Message) error
}

// StatusSetter moves a lead or client to a pipeline status.
type StatusSetter interface {
	SetStatus(ctx context.Context, entityID, status string) error
}

// FieldMutator writes a single contact field.
type FieldMutator interface {
	SetField(ctx context.Context, entityID, field string, value any) error
}

// Tagger adds and removes tags.
type Tagger interface {
	AddTag(ctx context.Context, entityID, tag string) error
	RemoveTag(ctx context.Context, entityID, tag string) error
}

// Set bundles the collaborators passed to the built-in action factories.
type Set struct {
	Messages MessageSender
	Statuses StatusSetter
	Fields   FieldMutator
	Tags     Tagger
}

// Backend is a single implementation of every collaborator.
type Backend interface {
	MessageSender
	StatusSetter
	FieldMutator
	Tagger
}

// NewSet uses one backend for every collaborator.
func NewSet(backend Backend) Set {
	return Set{
		Messages: backend,
		Statuses: backend,
		Fields:   backend,
		Tags:     backend,
	}
}
