package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadpilot/automation/pkg/models"
	"github.com/leadpilot/automation/pkg/protocol"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxResponseBody       = 1 << 20
)

var (
	ErrWebhookServerError = errors.New("webhook server error")
	ErrWebhookRejected    = errors.New("webhook rejected the request")
)

// WebhookDispatcher performs webhook requests itself.
type WebhookDispatcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewWebhookDispatcher uses client, or a client without a global timeout when nil; each call
// is bounded by the request's own timeout.
func NewWebhookDispatcher(client *http.Client, logger *slog.Logger) *WebhookDispatcher {
	if client == nil {
		client = &http.Client{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookDispatcher{client: client, logger: logger.With("module", "webhook_dispatcher")}
}

// Dispatch sends the request. Transport errors, 429 and 5xx are retryable; other 4xx are permanent.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, req protocol.ActionRequest) (map[string]any, error) {
	if req.Kind != protocol.ActionWebhook {
		return nil, protocol.Permanent(fmt.Errorf("%w: %s", ErrNoRoute, req.Kind))
	}

	timeout := defaultWebhookTimeout
	if raw, ok := req.Params["timeout"].(string); ok && raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return nil, protocol.Permanent(fmt.Errorf("%w: invalid webhook timeout %q", protocol.ErrInvalidConfig, raw))
		}

		timeout = parsed
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := d.buildRequest(ctx, req)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, protocol.Retryable(fmt.Errorf("http request failed: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	result, err := d.processResponse(ctx, resp)
	if err != nil {
		return nil, protocol.Retryable(err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, protocol.Retryable(fmt.Errorf("%w: status %d", ErrWebhookServerError, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, protocol.Permanent(fmt.Errorf("%w: status %d", ErrWebhookRejected, resp.StatusCode))
	}

	d.logger.InfoContext(ctx, "webhook delivered",
		"execution_id", req.RunID,
		"node_id", req.NodeID,
		"status_code", resp.StatusCode)

	return result, nil
}

func (d *WebhookDispatcher) buildRequest(ctx context.Context, req protocol.ActionRequest) (*http.Request, error) {
	url, _ := req.Params["url"].(string)

	method, _ := req.Params["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, contentType, err := requestBody(req.Params["body"])
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey())

	if headers, ok := req.Params["headers"].(map[string]any); ok {
		for key, value := range headers {
			httpReq.Header.Set(key, models.FormatValue(value))
		}
	}

	return httpReq, nil
}

func requestBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return http.NoBody, "", nil
	case string:
		return bytes.NewBufferString(b), "text/plain; charset=utf-8", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal body: %w", err)
		}

		return bytes.NewReader(data), "application/json", nil
	}
}

func (d *WebhookDispatcher) processResponse(ctx context.Context, resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	if len(bodyBytes) > 0 {
		err = json.Unmarshal(bodyBytes, &body)
		if err != nil {
			body = string(bodyBytes)

			d.logger.DebugContext(ctx, "webhook response is not JSON, keeping it as string")
		}
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}
