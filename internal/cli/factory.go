package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"multirag/config"
	"multirag/internal/adapter/cache"
	"multirag/internal/adapter/embedding"
	"multirag/internal/adapter/llm"
	"multirag/internal/adapter/memstore"
	"multirag/internal/adapter/retriever"
	"multirag/internal/adapter/store"
	"multirag/internal/port"
)

// services holds the clients shared by a command. They are built once and
// closed together when the command returns.
type services struct {
	embedder port.Embedder
	store    port.VectorStore
	closers  []func() error
}

func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// openServices builds the embedder (with its cache) and the vector store.
// withEmbedder is false for commands that only read counts.
func openServices(ctx context.Context, cfg *config.Config, dir string, withEmbedder bool) (*services, error) {
	s := &services{}

	st, err := newVectorStore(cfg, dir)
	if err != nil {
		return nil, err
	}
	s.store = st
	s.closers = append(s.closers, st.Close)

	if !withEmbedder {
		return s, nil
	}

	base, err := newEmbedder(cfg)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	s.embedder = base

	c, err := newEmbeddingCache(ctx, cfg, dir)
	if err != nil {
		// the cache only saves calls; run without it
		log.Warn().Err(err).Str("backend", cfg.Cache.Backend).Msg("embedding cache unavailable")
		return s, nil
	}
	if c != nil {
		s.embedder = embedding.NewCachedEmbedder(base, c, log)
		s.closers = append(s.closers, c.Close)
	}
	return s, nil
}

func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	e := cfg.Embedding
	switch e.Provider {
	case "gemini":
		if e.BaseURL != "" {
			return embedding.NewOpenAICompatibleEmbedder(e.APIKeyEnv, e.Model, e.BaseURL, e.Dimension, e.Timeout)
		}
		return embedding.NewGeminiEmbedder(e.APIKeyEnv, e.Model, e.Dimension, e.Timeout)
	case "openai":
		if e.BaseURL != "" {
			return embedding.NewOpenAICompatibleEmbedder(e.APIKeyEnv, e.Model, e.BaseURL, e.Dimension, e.Timeout)
		}
		return embedding.NewOpenAIEmbedder(e.APIKeyEnv, e.Model, e.Dimension, e.Timeout)
	case "ollama":
		return embedding.NewOllamaEmbedder(e.Model, e.BaseURL, e.Dimension, e.Timeout)
	case "mock":
		return embedding.NewMockEmbedder(e.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", e.Provider)
	}
}

// newEmbeddingCache returns nil, nil when caching is turned off.
func newEmbeddingCache(ctx context.Context, cfg *config.Config, dir string) (port.EmbeddingCache, error) {
	switch cfg.Cache.Backend {
	case "bolt":
		path, err := config.EnsureStatePath(dir, cfg.Cache.Path)
		if err != nil {
			return nil, err
		}
		c, err := cache.OpenBoltCache(path, cfg.Embedding.Model, cfg.Embedding.Dimension)
		if err != nil {
			return nil, err
		}
		if reset, reason := c.WasReset(); reset {
			log.Info().Str("reason", reason).Msg("embedding cache cleared")
		}
		return c, nil
	case "redis":
		c, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisTTL)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "memory":
		return cache.NewMemoryCache(cfg.Cache.MemorySize), nil
	default:
		return nil, nil
	}
}

func newVectorStore(cfg *config.Config, dir string) (port.VectorStore, error) {
	switch cfg.Store.Backend {
	case "qdrant":
		st, err := store.NewQdrantStore(store.QdrantConfig{
			Host:   cfg.Store.QdrantHost,
			Port:   cfg.Store.QdrantPort,
			APIKey: os.Getenv(cfg.Store.QdrantAPIKeyEnv),
			UseTLS: cfg.Store.QdrantTLS,
			Wait:   cfg.Store.Wait,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case "bolt":
		path, err := config.EnsureStatePath(dir, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		st, err := store.NewBoltVectorStore(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		return memstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

func newJudgeLLM(ctx context.Context, cfg *config.Config) (port.LLM, error) {
	r := cfg.Rerank
	opts := llm.Options{Temperature: r.Temperature, MaxTokens: r.MaxTokens}
	switch r.Provider {
	case "gemini":
		return llm.NewGeminiLLM(r.APIKeyEnv, r.Model, opts, r.Timeout)
	case "openai":
		return llm.NewOpenAILLM(r.APIKeyEnv, r.Model, r.BaseURL, opts, r.Timeout)
	case "ollama":
		return llm.NewOllamaLLM(r.Model, r.BaseURL, opts, r.Timeout)
	case "bedrock":
		return llm.NewBedrockLLM(ctx, r.Region, r.Model, opts)
	default:
		return nil, fmt.Errorf("unsupported rerank provider: %s", r.Provider)
	}
}

// newJudge returns nil when reranking is off. A judge that cannot be built
// is a configuration error.
func newJudge(ctx context.Context, cfg *config.Config, enabled bool) (*retriever.JudgeReranker, error) {
	if !enabled {
		return nil, nil
	}
	model, err := newJudgeLLM(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank model: %w", err)
	}
	return retriever.NewJudgeReranker(model, cfg.Rerank.MaxCandidates, cfg.Rerank.Timeout, log), nil
}
