package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// OpenAILLM calls an OpenAI-compatible chat completions endpoint.
type OpenAILLM struct {
	client *openai.Client
	model  string
	opts   Options
}

func NewOpenAILLM(apiKeyEnv, model, baseURL string, opts Options, timeout time.Duration) (*OpenAILLM, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAILLM{client: openai.NewClientWithConfig(cfg), model: model, opts: opts}, nil
}

// NewGeminiLLM reaches Gemini through its OpenAI-compatible endpoint.
func NewGeminiLLM(apiKeyEnv, model string, opts Options, timeout time.Duration) (*OpenAILLM, error) {
	return NewOpenAILLM(apiKeyEnv, model, geminiBaseURL, opts, timeout)
}

func (l *OpenAILLM) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(l.opts.Temperature),
		MaxTokens:   l.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (l *OpenAILLM) ModelName() string {
	return l.model
}
