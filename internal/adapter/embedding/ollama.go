package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"multirag/internal/domain"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaEmbedder uses a local Ollama server's native embed endpoint.
type OllamaEmbedder struct {
	client    *api.Client
	model     string
	dimension int
}

func NewOllamaEmbedder(model, baseURL string, dimension int, timeout time.Duration) (*OllamaEmbedder, error) {
	client, err := newOllamaClient(baseURL, timeout)
	if err != nil {
		return nil, err
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	return &OllamaEmbedder{client: client, model: model, dimension: dimension}, nil
}

// newOllamaClient builds an Ollama API client for baseURL, defaulting to the
// local server.
func newOllamaClient(baseURL string, timeout time.Duration) (*api.Client, error) {
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
	return api.NewClient(u, &http.Client{Timeout: timeout}), nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	for _, vec := range resp.Embeddings {
		if len(vec) != e.dimension {
			return nil, fmt.Errorf("%w: model %s returned %d, expected %d", domain.ErrDimensionMismatch, e.model, len(vec), e.dimension)
		}
	}

	return resp.Embeddings, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

func (e *OllamaEmbedder) ModelName() string {
	return e.model
}
