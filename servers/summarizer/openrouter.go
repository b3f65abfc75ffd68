package summarizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Summarizer produces a summary of a text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// OpenRouter summarizes text with a chat completion model served by OpenRouter, or any other
// OpenAI compatible API.
type OpenRouter struct {
	client *openai.Client
	model  string
}

// Defaults for NewOpenRouter.
const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel   = "openrouter/sonoma-dusk-alpha"
)

const summarizeSystemPrompt = "You are a helpful assistant that summarizes text."

// NewOpenRouter creates a Summarizer calling the chat completions endpoint under baseURL with
// apiKey. Empty baseURL and model select the defaults.
func NewOpenRouter(apiKey, baseURL, model string) *OpenRouter {
	if baseURL == "" {
		baseURL = DefaultOpenRouterBaseURL
	}
	if model == "" {
		model = DefaultOpenRouterModel
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenRouter{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Summarize implements Summarizer.
func (o *OpenRouter) Summarize(ctx context.Context, text string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: summarizeSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Summarize the following text, return only the summary: <text>%s</text>", text),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
