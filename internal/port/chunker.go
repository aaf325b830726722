package port

import "multirag/internal/domain"

type Chunker interface {
	Chunk(doc domain.Document, recipe domain.Recipe) []domain.Chunk
}
