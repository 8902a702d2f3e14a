package collaborators

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_QueuedFailures(t *testing.T) {
	recorder := NewRecorder()
	set := NewSet(recorder)
	ctx := context.Background()

	boom := errors.New("boom")
	recorder.Fail(OpSend, boom, nil, boom)

	require.ErrorIs(t, set.Messages.Send(ctx, Message{To: "1"}), boom)
	require.NoError(t, set.Messages.Send(ctx, Message{To: "2"}))
	require.ErrorIs(t, set.Messages.Send(ctx, Message{To: "3"}), boom)
	require.NoError(t, set.Messages.Send(ctx, Message{To: "4"}))

	sent := recorder.CallsFor(OpSend)
	require.Len(t, sent, 2)
	assert.Equal(t, "2", sent[0].Message.To)
	assert.Equal(t, "4", sent[1].Message.To)
	assert.Equal(t, 4, recorder.Attempts(OpSend))

	require.NoError(t, set.Statuses.SetStatus(ctx, "lead-1", "won"))
	require.NoError(t, set.Fields.SetField(ctx, "lead-1", "city", "Natal"))
	require.NoError(t, set.Tags.AddTag(ctx, "lead-1", "hot"))
	require.NoError(t, set.Tags.RemoveTag(ctx, "lead-1", "cold"))

	assert.Len(t, recorder.Calls(), 6)
	assert.Equal(t, "won", recorder.CallsFor(OpSetStatus)[0].Value)
	assert.Equal(t, "city", recorder.CallsFor(OpSetField)[0].Field)
	assert.Equal(t, 0, recorder.Attempts("unknown"))
}
