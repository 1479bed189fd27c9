package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examgrader/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a careful exam grader. Respond ONLY with a single JSON object."

// ErrNoChoices is returned when the endpoint answers without any completion.
var ErrNoChoices = errors.New("LLM returned no choices")

// Completion is the raw text of one completion plus its token usage.
// Usage is nil when the endpoint does not report it.
type Completion struct {
	Text  string
	Usage *model.Usage
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       modelName,
		temperature: 0.1,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Ping checks that the endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Complete sends a single prompt and returns the model's raw text. The text
// is not guaranteed to be valid JSON even though JSON output is requested.
func (c *Client) Complete(ctx context.Context, prompt string) (Completion, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Completion{}, ErrNoChoices
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw, "total_tokens", resp.Usage.TotalTokens)

	return Completion{Text: raw, Usage: usageFrom(resp.Usage)}, nil
}

func usageFrom(u openai.Usage) *model.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return &model.Usage{
		PromptTokens:    u.PromptTokens,
		CandidateTokens: u.CompletionTokens,
		TotalTokens:     total,
	}
}
