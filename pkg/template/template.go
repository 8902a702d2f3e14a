// Package template renders text/template strings against an execution context.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

func funcs(data models.Context) template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": func(s string) string {
			if s == "" {
				return s
			}

			return strings.ToUpper(s[:1]) + s[1:]
		},
		// get resolves a dot path, returning "" when absent
		"get": func(path string) string {
			value, _ := data.String(path)

			return value
		},
		"default": func(fallback string, value any) string {
			if value == nil {
				return fallback
			}

			if s := fmt.Sprint(value); s != "" {
				return s
			}

			return fallback
		},
	}
}

// NeedsTemplating reports whether s contains template actions.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{")
}

// Text renders input against data. Referencing a missing key is an error.
func Text(input string, data models.Context) (string, error) {
	if !NeedsTemplating(input) {
		return input, nil
	}

	tmpl, err := template.New("node").
		Option("missingkey=error").
		Funcs(funcs(data)).
		Parse(input)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", input, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, map[string]any(data)); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", input, err)
	}

	return buf.String(), nil
}

// Value renders string values and converts the result back to JSON, number or bool
// when it looks like one. Non string values are returned unchanged.
func Value(input any, data models.Context) (any, error) {
	s, ok := input.(string)
	if !ok || !NeedsTemplating(s) {
		return input, nil
	}

	rendered, err := Text(s, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any
		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}

		return rendered, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return rendered, nil
}
