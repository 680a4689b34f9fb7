// Package modelclient talks to OpenAI-compatible chat completion APIs.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/nexocrm/flowd/pkg/models"
)

const (
	chatCompletionsPath = "/chat/completions"
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
)

var ErrNoChoices = errors.New("model returned no choices")

// OpenAIClient implements protocol.ModelClient against any endpoint that
// speaks the OpenAI chat completions shape.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIClient reads OPENAI_API_KEY from the environment. An empty
// baseURL defaults to the OpenAI API.
func NewOpenAIClient(baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &OpenAIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  os.Getenv("OPENAI_API_KEY"),
		client:  &http.Client{},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}

	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return models.CompletionResult{}, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return models.CompletionResult{}, fmt.Errorf("failed to build completion request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.CompletionResult{}, fmt.Errorf("completion request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.CompletionResult{}, fmt.Errorf("failed to read completion response: %w", err)
	}

	var parsed chatResponse

	err = json.Unmarshal(body, &parsed)
	if err != nil {
		return models.CompletionResult{}, fmt.Errorf("failed to decode completion response (status %d): %w",
			resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return models.CompletionResult{}, fmt.Errorf("model API error (status %d): %s",
			resp.StatusCode, parsed.Error.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return models.CompletionResult{}, fmt.Errorf("model API returned status %d", resp.StatusCode)
	}

	if len(parsed.Choices) == 0 {
		return models.CompletionResult{}, ErrNoChoices
	}

	return models.CompletionResult{
		Text:         parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}
