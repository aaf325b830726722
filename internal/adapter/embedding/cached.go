package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"

	"multirag/internal/port"
)

// CachedEmbedder serves repeated texts from an EmbeddingCache and only sends
// misses to the wrapped embedder. Cache failures never fail an embed call.
type CachedEmbedder struct {
	inner port.Embedder
	cache port.EmbeddingCache
	log   zerolog.Logger
}

func NewCachedEmbedder(inner port.Embedder, cache port.EmbeddingCache, log zerolog.Logger) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, log: log}
}

// CacheKey identifies text embedded by a given model at a given dimension.
func CacheKey(model string, dimension int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", model, dimension, text)))
	return hex.EncodeToString(sum[:])
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)

	for i, text := range texts {
		keys[i] = CacheKey(e.inner.ModelName(), e.inner.Dimension(), text)
		vec, ok, err := e.cache.Get(ctx, keys[i])
		if err != nil {
			e.log.Warn().Err(err).Msg("embedding cache read failed")
		}
		if ok && len(vec) == e.inner.Dimension() {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(missTexts))
	}

	for j, i := range missIdx {
		out[i] = fresh[j]
		if err := e.cache.Put(ctx, keys[i], fresh[j]); err != nil {
			e.log.Warn().Err(err).Msg("embedding cache write failed")
		}
	}

	return out, nil
}

func (e *CachedEmbedder) Dimension() int {
	return e.inner.Dimension()
}

func (e *CachedEmbedder) ModelName() string {
	return e.inner.ModelName()
}
