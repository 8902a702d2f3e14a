package template

import (
	"testing"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leadContext() models.Context {
	return models.NewContext(map[string]any{
		"lead": map[string]any{
			"id":    "lead-1",
			"name":  "alice",
			"phone": "+5511999990000",
			"score": 42,
		},
		"tags": []any{"hot", "inbound"},
	})
}

func TestText(t *testing.T) {
	ctx := leadContext()

	out, err := Text("Hi {{ .lead.name | title }}, welcome!", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hi Alice, welcome!", out)

	out, err = Text(`{{ get "tags.1" }} / {{ get "lead.missing" }}`, ctx)
	require.NoError(t, err)
	assert.Equal(t, "inbound / ", out)

	out, err = Text("{{ .trigger.lead.phone }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "+5511999990000", out)

	out, err = Text("plain text", ctx)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestText_Errors(t *testing.T) {
	ctx := leadContext()

	_, err := Text("{{ .lead.name ", ctx)
	assert.ErrorContains(t, err, "failed to parse template")

	_, err = Text("{{ .unknown }}", ctx)
	assert.ErrorContains(t, err, "failed to execute template")
}

func TestValue(t *testing.T) {
	ctx := leadContext()

	tests := []struct {
		name     string
		input    any
		expected any
	}{
		{name: "number", input: "{{ .lead.score }}", expected: 42.0},
		{name: "bool", input: "{{ eq .lead.score 42 }}", expected: true},
		{name: "json", input: `{"id": "{{ .lead.id }}"}`, expected: map[string]any{"id": "lead-1"}},
		{name: "string", input: "{{ .lead.name | upper }}", expected: "ALICE"},
		{name: "untouched string", input: "static", expected: "static"},
		{name: "non string", input: 7, expected: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Value(tt.input, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNeedsTemplating(t *testing.T) {
	assert.True(t, NeedsTemplating("{{ .lead.name }}"))
	assert.False(t, NeedsTemplating("lead.name"))
}
