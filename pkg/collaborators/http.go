package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/protocol"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultHTTPTimeout = 15 * time.Second

// ErrCRMStatus is returned when the CRM core answers with a non 2xx status.
var ErrCRMStatus = errors.New("unexpected CRM status")

// HTTPClient talks to the CRM core over its JSON API.
// Transport failures and 5xx answers are retryable, 4xx answers are permanent.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a client for the CRM core at baseURL.
func NewHTTPClient(baseURL string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultHTTPTimeout,
		},
		logger: logger.With("module", "crm_client"),
	}
}

func (c *HTTPClient) Send(ctx context.Context, message Message) error {
	return c.do(ctx, http.MethodPost, "/messages", message)
}

func (c *HTTPClient) SetStatus(ctx context.Context, entityID, status string) error {
	return c.do(ctx, http.MethodPut, entityPath(entityID, "status"), map[string]any{"status": status})
}

func (c *HTTPClient) SetField(ctx context.Context, entityID, field string, value any) error {
	return c.do(ctx, http.MethodPut, entityPath(entityID, "fields", field), map[string]any{"value": value})
}

func (c *HTTPClient) AddTag(ctx context.Context, entityID, tag string) error {
	return c.do(ctx, http.MethodPost, entityPath(entityID, "tags"), map[string]any{"tag": tag})
}

func (c *HTTPClient) RemoveTag(ctx context.Context, entityID, tag string) error {
	return c.do(ctx, http.MethodDelete, entityPath(entityID, "tags", tag), nil)
}

func entityPath(entityID string, parts ...string) string {
	escaped := make([]string, 0, len(parts)+2)
	escaped = append(escaped, "entities", url.PathEscape(entityID))

	for _, part := range parts {
		escaped = append(escaped, url.PathEscape(part))
	}

	return "/" + strings.Join(escaped, "/")
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return protocol.Permanent(fmt.Errorf("failed to encode request: %w", err))
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return protocol.Permanent(fmt.Errorf("failed to build request: %w", err))
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return protocol.Retryable(fmt.Errorf("%s %s: %w", method, path, err))
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := fmt.Errorf("%w: %s %s returned %d: %s", ErrCRMStatus, method, path, resp.StatusCode, strings.TrimSpace(string(detail)))

	c.logger.WarnContext(ctx, "CRM request failed", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return protocol.Retryable(statusErr)
	}

	return protocol.Permanent(statusErr)
}
