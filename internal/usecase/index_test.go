package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"multirag/internal/adapter/chunker"
	"multirag/internal/adapter/embedding"
	"multirag/internal/adapter/fs"
	"multirag/internal/adapter/memstore"
	"multirag/internal/domain"
	"multirag/internal/port"
)

const testCollection = "passages"

var testRecipes = []domain.Recipe{
	{Name: "small", ChunkSize: 1000, ChunkOverlap: 200},
	{Name: "large", ChunkSize: 2048, ChunkOverlap: 400},
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newIndexer(embedder port.Embedder, store port.VectorStore, opts IndexOptions) *IndexUseCase {
	return NewIndexUseCase(
		fs.NewWalker([]string{"**/*.txt", "**/*.md"}, nil),
		fs.NewExtractor(),
		chunker.NewRecursiveChunker(),
		embedder,
		store,
		testCollection,
		testRecipes,
		opts,
		zerolog.Nop(),
	)
}

func longDocument(n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		fmt.Fprintf(&b, "Sentence %d describes topic %d in some detail. ", i, i%7)
		if i%9 == 8 {
			b.WriteString("\n\n")
		}
	}
	return b.String()[:n]
}

func TestIndexTwoRecipes(t *testing.T) {
	dir := writeFiles(t, map[string]string{"doc.txt": longDocument(3000)})
	store := memstore.NewMemoryStore()
	ctx := context.Background()

	result, err := newIndexer(embedding.NewMockEmbedder(64), store, IndexOptions{}).Index(ctx, dir, nil)
	if err != nil {
		t.Fatalf("index failed: %v", err)
	}

	if result.Documents != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.PerRecipe["small"] < 3 {
		t.Errorf("expected at least 3 small chunks, got %d", result.PerRecipe["small"])
	}
	if result.PerRecipe["large"] < 2 {
		t.Errorf("expected at least 2 large chunks, got %d", result.PerRecipe["large"])
	}
	if result.Upserted != result.Chunks {
		t.Errorf("expected every chunk upserted, got %d of %d", result.Upserted, result.Chunks)
	}

	for _, r := range testRecipes {
		n, err := store.Count(ctx, testCollection, port.RecipeFilter(r.Name))
		if err != nil {
			t.Fatal(err)
		}
		if n != result.PerRecipe[r.Name] {
			t.Errorf("recipe %s: stored %d, indexed %d", r.Name, n, result.PerRecipe[r.Name])
		}

		query, _ := embedding.NewMockEmbedder(64).Embed(ctx, []string{"topic detail"})
		hits, err := store.Search(ctx, testCollection, port.SearchRequest{
			Vector: query[0],
			Limit:  100,
			Filter: port.RecipeFilter(r.Name),
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != n {
			t.Errorf("recipe %s: expected %d hits, got %d", r.Name, n, len(hits))
		}
		for _, h := range hits {
			p := h.Payload
			if p.RecipeName != r.Name || p.ChunkSize != r.ChunkSize || p.ChunkOverlap != r.ChunkOverlap {
				t.Errorf("recipe %s: hit carries wrong metadata %+v", r.Name, p)
			}
			if p.SourcePath != "doc.txt" {
				t.Errorf("expected relative source path, got %q", p.SourcePath)
			}
			if p.Length > r.ChunkSize {
				t.Errorf("recipe %s: chunk of %d exceeds size", r.Name, p.Length)
			}
		}
	}
}

func TestIndexIsIdempotent(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.txt":     longDocument(2500),
		"sub/b.md":  "A short markdown note.",
		"skip.json": `{"ignored": true}`,
	})
	store := memstore.NewMemoryStore()
	ctx := context.Background()
	indexer := newIndexer(embedding.NewMockEmbedder(32), store, IndexOptions{})

	if _, err := indexer.Index(ctx, dir, nil); err != nil {
		t.Fatal(err)
	}
	first, _ := store.Count(ctx, testCollection, nil)

	second, err := indexer.Index(ctx, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	after, _ := store.Count(ctx, testCollection, nil)

	if first == 0 || after != first {
		t.Errorf("expected count to stay at %d, got %d", first, after)
	}
	if second.Documents != 2 {
		t.Errorf("expected 2 documents, got %d", second.Documents)
	}
}

type poisonEmbedder struct {
	*embedding.MockEmbedder
}

func (p poisonEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if strings.Contains(text, "POISON") {
			return nil, errors.New("provider rejected input")
		}
	}
	return p.MockEmbedder.Embed(ctx, texts)
}

func TestIndexSkipsFailingChunks(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"bad.txt":  "This one contains POISON and cannot be embedded.",
		"good.txt": "This one is perfectly fine.",
	})
	store := memstore.NewMemoryStore()
	ctx := context.Background()

	var last Progress
	result, err := newIndexer(poisonEmbedder{embedding.NewMockEmbedder(16)}, store, IndexOptions{}).
		Index(ctx, dir, func(p Progress) { last = p })
	if err != nil {
		t.Fatalf("a failing chunk must not abort the run: %v", err)
	}

	if result.Failed != 2 || result.Upserted != 2 {
		t.Errorf("expected 2 failed and 2 upserted, got %+v", result)
	}
	if len(result.Failures) != 2 || !strings.Contains(result.Failures[0], "bad.txt") {
		t.Errorf("unexpected failures: %v", result.Failures)
	}
	if last.Processed != 4 || last.Total != 4 || last.Failed != 2 {
		t.Errorf("unexpected final progress: %+v", last)
	}
	if n, _ := store.Count(ctx, testCollection, nil); n != 2 {
		t.Errorf("expected 2 stored passages, got %d", n)
	}
}

type shortEmbedder struct {
	*embedding.MockEmbedder
}

func (s shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := s.MockEmbedder.Embed(ctx, texts)
	for i := range vecs {
		vecs[i] = vecs[i][:2]
	}
	return vecs, err
}

func TestIndexDimensionMismatchIsFatal(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.txt": "hello world"})

	t.Run("embedder", func(t *testing.T) {
		_, err := newIndexer(shortEmbedder{embedding.NewMockEmbedder(8)}, memstore.NewMemoryStore(), IndexOptions{}).
			Index(context.Background(), dir, nil)
		if !errors.Is(err, domain.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("collection", func(t *testing.T) {
		store := memstore.NewMemoryStore()
		if err := store.EnsureCollection(context.Background(), testCollection, 3, port.DistanceCosine); err != nil {
			t.Fatal(err)
		}
		_, err := newIndexer(embedding.NewMockEmbedder(8), store, IndexOptions{}).
			Index(context.Background(), dir, nil)
		if !errors.Is(err, domain.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})
}

func TestIndexNoDocuments(t *testing.T) {
	dir := writeFiles(t, map[string]string{"image.png": "not text"})

	_, err := newIndexer(embedding.NewMockEmbedder(8), memstore.NewMemoryStore(), IndexOptions{}).
		Index(context.Background(), dir, nil)
	if !errors.Is(err, domain.ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}
}

func TestIndexConcurrentMatchesSequential(t *testing.T) {
	files := map[string]string{}
	for i := range 6 {
		files[fmt.Sprintf("doc%d.txt", i)] = longDocument(1500 + i*100)
	}
	dir := writeFiles(t, files)
	ctx := context.Background()

	seqStore := memstore.NewMemoryStore()
	seq, err := newIndexer(embedding.NewMockEmbedder(32), seqStore, IndexOptions{Concurrency: 1}).Index(ctx, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	parStore := memstore.NewMemoryStore()
	par, err := newIndexer(embedding.NewMockEmbedder(32), parStore, IndexOptions{Concurrency: 4}).Index(ctx, dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	if seq.Upserted != par.Upserted || seq.Chunks != par.Chunks {
		t.Errorf("sequential %+v and concurrent %+v runs differ", seq, par)
	}
	a, _ := seqStore.Count(ctx, testCollection, nil)
	b, _ := parStore.Count(ctx, testCollection, nil)
	if a != b {
		t.Errorf("stored counts differ: %d vs %d", a, b)
	}
}

func TestIndexRejectsInvalidRecipe(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.txt": "hello"})
	indexer := NewIndexUseCase(
		fs.NewWalker(nil, nil), fs.NewExtractor(), chunker.NewRecursiveChunker(),
		embedding.NewMockEmbedder(8), memstore.NewMemoryStore(), testCollection,
		[]domain.Recipe{{Name: "bad", ChunkSize: 10, ChunkOverlap: 10}},
		IndexOptions{}, zerolog.Nop(),
	)

	if _, err := indexer.Index(context.Background(), dir, nil); !errors.Is(err, domain.ErrInvalidRecipe) {
		t.Errorf("expected ErrInvalidRecipe, got %v", err)
	}
}
