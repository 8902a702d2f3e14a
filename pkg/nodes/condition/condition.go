// Package condition provides the built-in branching nodes.
package condition

import (
	"context"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
)

func handle(ok bool) string {
	if ok {
		return models.HandleTrue
	}

	return models.HandleFalse
}

type HasRepliedConfig struct {
	Field string `json:"field"`
}

// HasReplied branches on whether the contact answered.
type HasReplied struct {
	field string
}

func (c *HasReplied) Evaluate(_ context.Context, execCtx models.Context) (string, error) {
	value, _ := execCtx.Lookup(c.field)

	return handle(models.Truthy(value)), nil
}

type HasRepliedFactory struct{}

func NewHasRepliedFactory() *HasRepliedFactory {
	return &HasRepliedFactory{}
}

func (f *HasRepliedFactory) ID() string            { return "has_replied" }
func (f *HasRepliedFactory) Kind() models.NodeKind { return models.NodeKindCondition }
func (f *HasRepliedFactory) Name() string          { return "Has replied" }

func (f *HasRepliedFactory) Description() string {
	return "Routes to true when the contact has replied, false otherwise"
}

func (f *HasRepliedFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":        "string",
				"description": "Context path of the replied flag",
				"default":     "has_replied",
			},
		},
		"additionalProperties": false,
	}
}

func (f *HasRepliedFactory) Create(config map[string]any) (protocol.Condition, error) {
	var cfg HasRepliedConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Field == "" {
		cfg.Field = "has_replied"
	}

	return &HasReplied{field: cfg.Field}, nil
}

var defaultPositiveKeywords = []string{
	"yes", "sure", "ok", "interested", "sim", "quero", "pode", "claro", "tenho interesse",
}

type PositiveResponseConfig struct {
	Field    string   `json:"field"`
	Keywords []string `json:"keywords" validate:"omitempty,dive,required"`
}

// PositiveResponse checks the last reply for positive keywords, case insensitive.
type PositiveResponse struct {
	field    string
	keywords []string
}

func (c *PositiveResponse) Evaluate(_ context.Context, execCtx models.Context) (string, error) {
	response, ok := execCtx.String(c.field)
	if !ok {
		return models.HandleFalse, nil
	}

	response = strings.ToLower(response)

	for _, word := range strings.FieldsFunc(response, isSeparator) {
		for _, keyword := range c.keywords {
			if word == keyword {
				return models.HandleTrue, nil
			}
		}
	}

	// Multi word keywords
	for _, keyword := range c.keywords {
		if strings.Contains(keyword, " ") && strings.Contains(response, keyword) {
			return models.HandleTrue, nil
		}
	}

	return models.HandleFalse, nil
}

func isSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
}

type PositiveResponseFactory struct{}

func NewPositiveResponseFactory() *PositiveResponseFactory {
	return &PositiveResponseFactory{}
}

func (f *PositiveResponseFactory) ID() string            { return "check_positive_response" }
func (f *PositiveResponseFactory) Kind() models.NodeKind { return models.NodeKindCondition }
func (f *PositiveResponseFactory) Name() string          { return "Positive response" }

func (f *PositiveResponseFactory) Description() string {
	return "Routes to true when the last reply contains a positive keyword"
}

func (f *PositiveResponseFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":    "string",
				"default": "last_response",
			},
			"keywords": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string", "minLength": 1},
				"description": "Words that count as positive. Defaults to a built-in list.",
			},
		},
		"additionalProperties": false,
	}
}

func (f *PositiveResponseFactory) Create(config map[string]any) (protocol.Condition, error) {
	var cfg PositiveResponseConfig
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Field == "" {
		cfg.Field = "last_response"
	}

	keywords := cfg.Keywords
	if len(keywords) == 0 {
		keywords = defaultPositiveKeywords
	}

	normalized := make([]string, len(keywords))
	for i, keyword := range keywords {
		normalized[i] = strings.ToLower(strings.TrimSpace(keyword))
	}

	return &PositiveResponse{field: cfg.Field, keywords: normalized}, nil
}
