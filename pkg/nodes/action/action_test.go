package action

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/crmflow/pkg/collaborators"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.DiscardHandler)

func leadCtx() models.Context {
	return models.NewContext(map[string]any{
		"lead_id": "L1",
		"phone":   "+5511988887777",
		"lead":    map[string]any{"name": "Bia", "email": "bia@example.com"},
	})
}

func TestSetStatus(t *testing.T) {
	recorder := collaborators.NewRecorder()

	action, err := NewSetStatusFactory(recorder).Create(map[string]any{"status": "qualified"})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), leadCtx(), logger)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "qualified", "entity_id": "L1"}, output)

	calls := recorder.CallsFor(collaborators.OpSetStatus)
	require.Len(t, calls, 1)
	assert.Equal(t, "L1", calls[0].EntityID)
	assert.Equal(t, "qualified", calls[0].Value)
}

func TestSetStatus_MissingEntityIsPermanent(t *testing.T) {
	action, err := NewSetStatusFactory(collaborators.NewRecorder()).Create(map[string]any{
		"status": "qualified", "entity_field": "client_id",
	})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), leadCtx(), logger)
	require.ErrorIs(t, err, ErrMissingEntity)
	assert.True(t, protocol.IsPermanent(err))
}

func TestSetStatus_CollaboratorErrorKeepsClassification(t *testing.T) {
	recorder := collaborators.NewRecorder()
	recorder.Fail(collaborators.OpSetStatus, protocol.Permanent(errors.New("status does not exist")))

	action, err := NewSetStatusFactory(recorder).Create(map[string]any{"status": "ghost"})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), leadCtx(), logger)
	assert.True(t, protocol.IsPermanent(err))
}

func TestSendMessage(t *testing.T) {
	recorder := collaborators.NewRecorder()

	action, err := NewSendMessageFactory(recorder).Create(map[string]any{
		"text": "Hi {{ .lead.name }}!",
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), leadCtx(), logger)
	require.NoError(t, err)
	assert.Equal(t, true, output["message_sent"])
	assert.Equal(t, "Hi Bia!", output["text"])

	sent := recorder.CallsFor(collaborators.OpSend)
	require.Len(t, sent, 1)
	assert.Equal(t, collaborators.Message{
		Channel: collaborators.ChannelWhatsApp, To: "+5511988887777", Text: "Hi Bia!", EntityID: "L1",
	}, sent[0].Message)
}

func TestSendMessage_Email(t *testing.T) {
	recorder := collaborators.NewRecorder()

	action, err := NewSendMessageFactory(recorder).Create(map[string]any{
		"text": "Welcome", "channel": "email", "phone_field": "lead.email",
	})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), leadCtx(), logger)
	require.NoError(t, err)
	assert.Equal(t, "bia@example.com", recorder.CallsFor(collaborators.OpSend)[0].Message.To)
}

func TestSendMessage_Errors(t *testing.T) {
	factory := NewSendMessageFactory(collaborators.NewRecorder())

	_, err := factory.Create(map[string]any{"text": "hi", "channel": "pigeon"})
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)

	_, err = factory.Create(map[string]any{})
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)

	action, err := factory.Create(map[string]any{"text": "hi", "phone_field": "lead.phone"})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), leadCtx(), logger)
	require.ErrorIs(t, err, ErrMissingRecipient)
	assert.True(t, protocol.IsPermanent(err))

	noSender, err := NewSendMessageFactory(nil).Create(map[string]any{"text": "hi"})
	require.NoError(t, err)

	_, err = noSender.Execute(context.Background(), leadCtx(), logger)
	require.ErrorIs(t, err, ErrMissingCollaborator)
}

func TestTags(t *testing.T) {
	recorder := collaborators.NewRecorder()

	add, err := NewAddTagFactory(recorder).Create(map[string]any{"tag": "hot"})
	require.NoError(t, err)

	remove, err := NewRemoveTagFactory(recorder).Create(map[string]any{"tag": "cold"})
	require.NoError(t, err)

	output, err := add.Execute(context.Background(), leadCtx(), logger)
	require.NoError(t, err)
	assert.Equal(t, "hot", output["tag_added"])

	output, err = remove.Execute(context.Background(), leadCtx(), logger)
	require.NoError(t, err)
	assert.Equal(t, "cold", output["tag_removed"])

	assert.Len(t, recorder.CallsFor(collaborators.OpAddTag), 1)
	assert.Len(t, recorder.CallsFor(collaborators.OpRemoveTag), 1)
	assert.Equal(t, "add_tag", NewAddTagFactory(nil).ID())
	assert.Equal(t, "remove_tag", NewRemoveTagFactory(nil).ID())
}

func TestUpdateField(t *testing.T) {
	recorder := collaborators.NewRecorder()

	action, err := NewUpdateFieldFactory(recorder).Create(map[string]any{
		"field": "contact_name", "value": "{{ .lead.name | upper }}",
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), leadCtx(), logger)
	require.NoError(t, err)
	assert.Equal(t, "BIA", output["contact_name"])

	calls := recorder.CallsFor(collaborators.OpSetField)
	require.Len(t, calls, 1)
	assert.Equal(t, "contact_name", calls[0].Field)
	assert.Equal(t, "BIA", calls[0].Value)
}

func TestSetVariable(t *testing.T) {
	action, err := NewSetVariableFactory().Create(map[string]any{"key": "greeted", "value": true})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), leadCtx(), logger)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeted": true}, output)

	_, err = NewSetVariableFactory().Create(map[string]any{"value": 1})
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)
}
