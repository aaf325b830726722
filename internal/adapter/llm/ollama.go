package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaLLM generates completions on a local Ollama server.
type OllamaLLM struct {
	client *api.Client
	model  string
	opts   Options
}

func NewOllamaLLM(model, baseURL string, opts Options, timeout time.Duration) (*OllamaLLM, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL %q: %w", baseURL, err)
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client := api.NewClient(u, &http.Client{Timeout: timeout})
	return &OllamaLLM{client: client, model: model, opts: opts}, nil
}

func (l *OllamaLLM) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	options := map[string]interface{}{
		"temperature": l.opts.Temperature,
	}
	if l.opts.MaxTokens > 0 {
		options["num_predict"] = l.opts.MaxTokens
	}

	var out strings.Builder
	err := l.client.Generate(ctx, &api.GenerateRequest{
		Model:   l.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: options,
	}, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}
	return out.String(), nil
}

func (l *OllamaLLM) ModelName() string {
	return l.model
}
