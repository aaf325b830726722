package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"multirag/internal/adapter/memstore"
	"multirag/internal/domain"
	"multirag/internal/port"
)

var bucketCollections = []byte("collections")

// BoltVectorStore implements VectorStore using BoltDB for persistence.
// Passages are mirrored in memory and searched by brute force.
type BoltVectorStore struct {
	db    *bbolt.DB
	mu    sync.Mutex
	index *memstore.MemoryStore
}

type storedPassage struct {
	Vector  []float32      `json:"v"`
	Payload domain.Payload `json:"p"`
}

type collectionMeta struct {
	Dimension int           `json:"dimension"`
	Distance  port.Distance `json:"distance"`
}

// NewBoltVectorStore opens (or creates) a bolt file and loads every stored
// collection into memory.
func NewBoltVectorStore(path string) (*BoltVectorStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCollections)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create collections bucket: %w", err)
	}

	s := &BoltVectorStore{db: db, index: memstore.NewMemoryStore()}
	if err := s.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return s, nil
}

func collectionBucket(name string) []byte {
	return []byte("col:" + name)
}

func (s *BoltVectorStore) load() error {
	ctx := context.Background()
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCollections).ForEach(func(k, v []byte) error {
			var meta collectionMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("corrupt metadata for collection %s: %w", k, err)
			}
			name := string(k)
			if err := s.index.EnsureCollection(ctx, name, meta.Dimension, meta.Distance); err != nil {
				return err
			}

			b := tx.Bucket(collectionBucket(name))
			if b == nil {
				return nil
			}
			var passages []domain.Passage
			err := b.ForEach(func(id, data []byte) error {
				var stored storedPassage
				if err := json.Unmarshal(data, &stored); err != nil {
					return nil // Skip corrupted entries
				}
				passages = append(passages, domain.Passage{ID: string(id), Vector: stored.Vector, Payload: stored.Payload})
				return nil
			})
			if err != nil {
				return err
			}
			return s.index.Upsert(ctx, name, passages)
		})
	})
}

func (s *BoltVectorStore) EnsureCollection(ctx context.Context, name string, dimension int, distance port.Distance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if have, ok := s.index.Dimension(name); ok {
		if have != dimension {
			return fmt.Errorf("%w: collection %s has %d, requested %d", domain.ErrDimensionMismatch, name, have, dimension)
		}
		return nil
	}

	data, err := json.Marshal(collectionMeta{Dimension: dimension, Distance: distance})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(collectionBucket(name)); err != nil {
			return err
		}
		return tx.Bucket(bucketCollections).Put([]byte(name), data)
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return s.index.EnsureCollection(ctx, name, dimension, distance)
}

// Upsert writes passages to disk, then to the in-memory index.
func (s *BoltVectorStore) Upsert(ctx context.Context, name string, passages []domain.Passage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, ok := s.index.Dimension(name)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	for _, p := range passages {
		if len(p.Vector) != dim {
			return fmt.Errorf("%w: passage %s has %d, collection %s expects %d", domain.ErrDimensionMismatch, p.ID, len(p.Vector), name, dim)
		}
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(collectionBucket(name))
		if b == nil {
			return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
		}
		for _, p := range passages {
			data, err := json.Marshal(storedPassage{Vector: p.Vector, Payload: p.Payload})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(p.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.index.Upsert(ctx, name, passages)
}

func (s *BoltVectorStore) Search(ctx context.Context, name string, req port.SearchRequest) ([]domain.SearchHit, error) {
	return s.index.Search(ctx, name, req)
}

func (s *BoltVectorStore) Count(ctx context.Context, name string, filter *port.Filter) (int, error) {
	return s.index.Count(ctx, name, filter)
}

func (s *BoltVectorStore) Close() error {
	return s.db.Close()
}
