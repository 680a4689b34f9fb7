// Package httprequest provides an HTTP request action with retry support.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/template"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrURLMissing is returned when the action config has no url.
	ErrURLMissing = errors.New("missing or invalid 'url' in configuration")
	// ErrServerError is returned when the server answers with a 5xx status.
	ErrServerError = errors.New("server error during HTTP request")
)

// Action performs an HTTP request with templated URL, headers and body.
type Action struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Retry   RetryConfig

	client *http.Client
}

type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

func NewAction(config map[string]any) (*Action, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrURLMissing
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	retry := RetryConfig{Attempts: 1}
	if retryConfig, exists := config["retries"]; exists {
		retry = parseRetryConfig(retryConfig)
	}

	return &Action{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: defaultTimeout,
		Retry:   retry,
	}, nil
}

func parseRetryConfig(retryConfig any) RetryConfig {
	retry := RetryConfig{Attempts: 1}

	retryMap, ok := retryConfig.(map[string]any)
	if !ok {
		return retry
	}

	if attempts, ok := retryMap["attempts"].(float64); ok && attempts >= 1 {
		retry.Attempts = int(attempts)
	}

	if delay, ok := retryMap["delay"].(float64); ok {
		retry.Delay = time.Duration(delay) * time.Millisecond
	}

	return retry
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("action_type", "http_request")

	client := a.client
	if client == nil {
		client = &http.Client{Timeout: a.Timeout}
	}

	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= a.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "retrying http request",
				"attempt", attempt, "max_attempts", a.Retry.Attempts)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.Retry.Delay):
			}
		}

		req, err := a.buildRequest(ctx, executionCtx)
		if err != nil {
			return nil, err
		}

		resp, err = client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed: %w", err)

			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < a.Retry.Attempts {
			err = resp.Body.Close()
			if err != nil {
				logger.ErrorContext(ctx, "failed to close response body", "error", err)
			}

			lastErr = fmt.Errorf("status %d, retrying: %w", resp.StatusCode, ErrServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}

	return a.processResponse(ctx, resp, logger)
}

func (a *Action) buildRequest(ctx context.Context, executionCtx models.ExecutionContext) (*http.Request, error) {
	url, err := template.RenderString(a.URL, executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render url template: %w", err)
	}

	var bodyReader io.Reader = strings.NewReader("")

	if a.Body != "" {
		rendered, err := template.RenderWithContext(a.Body, executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}

		switch body := rendered.(type) {
		case string:
			bodyReader = strings.NewReader(body)
		default:
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to encode body: %w", err)
			}

			bodyReader = strings.NewReader(string(encoded))
		}
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range a.Headers {
		rendered, err := template.RenderString(value, executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s': %w", key, err)
		}

		req.Header.Set(key, rendered)
	}

	return req, nil
}

func (a *Action) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (any, error) {
	defer func() {
		err := resp.Body.Close()
		if err != nil {
			logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
	}

	var jsonBody any
	if err := json.Unmarshal(raw, &jsonBody); err == nil {
		result["body"] = jsonBody
	} else {
		result["body"] = string(raw)
	}

	return result, nil
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key := range headers {
		flat[key] = headers.Get(key)
	}

	return flat
}
