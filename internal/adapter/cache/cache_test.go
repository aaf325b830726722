package cache

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()

	c.Put(ctx, "a", []float32{1})
	c.Put(ctx, "b", []float32{2})
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatal("expected a to be cached")
	}
	c.Put(ctx, "c", []float32{3})

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Error("expected a to survive eviction")
	}
	if c.Size() != 2 {
		t.Errorf("expected size 2, got %d", c.Size())
	}
}

func TestBoltCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.db")
	ctx := context.Background()

	c, err := OpenBoltCache(path, "model-a", 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "k", []float32{0.5, -1, 2}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Error("expected miss for unknown key")
	}
	c.Close()

	c, err = OpenBoltCache(path, "model-a", 3)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if reset, _ := c.WasReset(); reset {
		t.Error("reopening with the same manifest must not reset")
	}
	vec, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(vec, []float32{0.5, -1, 2}) {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestBoltCacheResetsOnManifestChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.db")
	ctx := context.Background()

	c, err := OpenBoltCache(path, "model-a", 3)
	if err != nil {
		t.Fatal(err)
	}
	c.Put(ctx, "k", []float32{1, 2, 3})
	c.Close()

	c, err = OpenBoltCache(path, "model-a", 4)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	reset, reason := c.WasReset()
	if !reset {
		t.Fatal("expected reset after dimension change")
	}
	if reason != "dimension changed from 3 to 4" {
		t.Errorf("unexpected reason %q", reason)
	}
	if n, _ := c.Count(); n != 0 {
		t.Errorf("expected empty cache, got %d entries", n)
	}
}
