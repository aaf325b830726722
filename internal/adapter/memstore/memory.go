package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"multirag/internal/domain"
	"multirag/internal/port"
)

// MemoryStore is a process-local VectorStore with brute-force cosine search.
// It also serves as the in-memory index behind the bolt-backed store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	dimension int
	passages  map[string]domain.Passage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*collection),
	}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, name string, dimension int, _ port.Distance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		if c.dimension != dimension {
			return fmt.Errorf("%w: collection %s has %d, requested %d", domain.ErrDimensionMismatch, name, c.dimension, dimension)
		}
		return nil
	}
	s.collections[name] = &collection{
		dimension: dimension,
		passages:  make(map[string]domain.Passage),
	}
	return nil
}

// Dimension returns the vector size of a collection, or false when it does not exist.
func (s *MemoryStore) Dimension(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, false
	}
	return c.dimension, true
}

func (s *MemoryStore) Upsert(_ context.Context, name string, passages []domain.Passage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	for _, p := range passages {
		if len(p.Vector) != c.dimension {
			return fmt.Errorf("%w: passage %s has %d, collection %s expects %d", domain.ErrDimensionMismatch, p.ID, len(p.Vector), name, c.dimension)
		}
	}
	for _, p := range passages {
		p.Vector = append([]float32(nil), p.Vector...)
		c.passages[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, name string, req port.SearchRequest) ([]domain.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if len(req.Vector) != c.dimension {
		return nil, fmt.Errorf("%w: query has %d, collection %s expects %d", domain.ErrDimensionMismatch, len(req.Vector), name, c.dimension)
	}
	if req.Limit <= 0 {
		return nil, nil
	}

	hits := make([]domain.SearchHit, 0, len(c.passages))
	for id, p := range c.passages {
		if !matches(p.Payload, req.Filter) {
			continue
		}
		hit := domain.SearchHit{
			ID:        id,
			BaseScore: cosineSimilarity(req.Vector, p.Vector),
			Payload:   p.Payload,
		}
		if req.WithVector {
			hit.Vector = append([]float32(nil), p.Vector...)
		}
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].BaseScore != hits[j].BaseScore {
			return hits[i].BaseScore > hits[j].BaseScore
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return hits, nil
}

func (s *MemoryStore) Count(_ context.Context, name string, filter *port.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if filter == nil {
		return len(c.passages), nil
	}
	n := 0
	for _, p := range c.passages {
		if matches(p.Payload, filter) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func matches(p domain.Payload, f *port.Filter) bool {
	if f == nil {
		return true
	}
	v, ok := p.Field(f.Key)
	return ok && v == f.Value
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
