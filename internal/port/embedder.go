package port

import "context"

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// EmbeddingCache persists embeddings keyed by a content hash.
// Implementations are opened explicitly by their constructor and must be closed.
type EmbeddingCache interface {
	// Get returns the cached vector and whether it was present.
	Get(ctx context.Context, key string) ([]float32, bool, error)

	// Put stores a vector, overwriting any previous value.
	Put(ctx context.Context, key string, vector []float32) error

	Close() error
}
