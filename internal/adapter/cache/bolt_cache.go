package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// CurrentSchemaVersion is bumped whenever the stored vector encoding changes.
const CurrentSchemaVersion = 1

var (
	bucketEmbeddings = []byte("embeddings")
	bucketMeta       = []byte("meta")
	keyManifest      = []byte("manifest")
)

// Manifest records which model produced the cached vectors. A cache opened
// with a different manifest is emptied before use.
type Manifest struct {
	Version   int    `json:"version"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// BoltCache persists embeddings in a local bbolt file.
type BoltCache struct {
	db          *bbolt.DB
	reset       bool
	resetReason string
}

func OpenBoltCache(path, model string, dimension int) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt cache: %w", err)
	}

	c := &BoltCache{db: db}
	want := Manifest{Version: CurrentSchemaVersion, Model: model, Dimension: dimension}

	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}

		var have Manifest
		if data := meta.Get(keyManifest); data != nil {
			if err := json.Unmarshal(data, &have); err != nil {
				have = Manifest{}
			}
		}

		if have != want {
			if tx.Bucket(bucketEmbeddings) != nil {
				if err := tx.DeleteBucket(bucketEmbeddings); err != nil {
					return err
				}
				c.reset = true
				c.resetReason = manifestChange(have, want)
			}
			data, err := json.Marshal(want)
			if err != nil {
				return err
			}
			if err := meta.Put(keyManifest, data); err != nil {
				return err
			}
		}

		_, err = tx.CreateBucketIfNotExists(bucketEmbeddings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

func manifestChange(have, want Manifest) string {
	switch {
	case have.Version != want.Version:
		return fmt.Sprintf("schema changed from v%d to v%d", have.Version, want.Version)
	case have.Model != want.Model:
		return fmt.Sprintf("model changed from %q to %q", have.Model, want.Model)
	default:
		return fmt.Sprintf("dimension changed from %d to %d", have.Dimension, want.Dimension)
	}
}

// WasReset reports whether Open discarded entries written under another manifest.
func (c *BoltCache) WasReset() (bool, string) {
	return c.reset, c.resetReason
}

func (c *BoltCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	var vec []float32
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEmbeddings).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &vec)
	})
	if err != nil {
		return nil, false, err
	}
	return vec, vec != nil, nil
}

func (c *BoltCache) Put(_ context.Context, key string, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).Put([]byte(key), data)
	})
}

func (c *BoltCache) Count() (int, error) {
	var n int
	err := c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEmbeddings).Stats().KeyN
		return nil
	})
	return n, err
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}
