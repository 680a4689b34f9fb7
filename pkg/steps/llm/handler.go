// Package llm implements steps that call a language model provider.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/protocol"
	"github.com/nexocrm/flowd/pkg/template"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultAttempts = 2
	retryBackoff    = 2 * time.Second
)

// ErrPromptMissing is returned when an llm step has no prompt.
var ErrPromptMissing = errors.New("llm step config missing 'prompt'")

type Handler struct {
	client  protocol.ModelClient
	logger  *slog.Logger
	timeout time.Duration
	backoff time.Duration
}

func NewHandler(client protocol.ModelClient, logger *slog.Logger) *Handler {
	return &Handler{
		client:  client,
		logger:  logger.With("module", "steps.llm"),
		timeout: defaultTimeout,
		backoff: retryBackoff,
	}
}

func (h *Handler) Handle(ctx context.Context, executionCtx models.ExecutionContext, step *models.StepDefinition) (models.StepOutcome, error) {
	prompt, _ := step.Config["prompt"].(string)
	if prompt == "" {
		return models.StepOutcome{}, ErrPromptMissing
	}

	renderedPrompt, err := template.RenderString(prompt, executionCtx)
	if err != nil {
		return models.StepOutcome{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	// An empty model lets the client pick its provider default.
	request := models.CompletionRequest{
		Prompt: renderedPrompt,
	}

	if model, ok := step.Config["model"].(string); ok && model != "" {
		request.Model = model
	}

	if systemPrompt, ok := step.Config["system_prompt"].(string); ok && systemPrompt != "" {
		request.SystemPrompt, err = template.RenderString(systemPrompt, executionCtx)
		if err != nil {
			return models.StepOutcome{}, fmt.Errorf("failed to render system prompt: %w", err)
		}
	}

	if maxTokens, ok := step.Config["max_tokens"].(float64); ok {
		request.MaxTokens = int(maxTokens)
	}

	if temperature, ok := step.Config["temperature"].(float64); ok {
		request.Temperature = temperature
	}

	attempts := defaultAttempts
	if configured, ok := step.Config["attempts"].(float64); ok && configured >= 1 {
		attempts = int(configured)
	}

	result, err := h.completeWithRetry(ctx, request, attempts, executionCtx.ExecutionID, step.Slug)
	if err != nil {
		h.logger.WarnContext(ctx, "llm call failed",
			"execution_id", executionCtx.ExecutionID,
			"step_slug", step.Slug,
			"error", err)

		return models.StepOutcome{
			Success: false,
			Output:  map[string]any{"error": err.Error()},
		}, nil
	}

	output := map[string]any{
		"response":      result.Text,
		"model":         result.Model,
		"input_tokens":  result.InputTokens,
		"output_tokens": result.OutputTokens,
	}

	// Offer a structured view when the model answered with JSON.
	trimmed := strings.TrimSpace(result.Text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			output["parsed"] = parsed
		}
	}

	return models.StepOutcome{Success: true, Output: output}, nil
}

func (h *Handler) completeWithRetry(ctx context.Context, request models.CompletionRequest, attempts int, executionID, stepSlug string) (models.CompletionResult, error) {
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			h.logger.InfoContext(ctx, "retrying llm call",
				"execution_id", executionID,
				"step_slug", stepSlug,
				"attempt", attempt)

			select {
			case <-ctx.Done():
				return models.CompletionResult{}, ctx.Err()
			case <-time.After(h.backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, h.timeout)
		result, err := h.client.Complete(callCtx, request)

		cancel()

		if err == nil {
			return result, nil
		}

		lastErr = err
	}

	return models.CompletionResult{}, fmt.Errorf("all attempts failed: %w", lastErr)
}
