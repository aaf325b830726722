package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"multirag/internal/domain"
	"multirag/internal/port"
)

// IndexUseCase chunks a corpus under every recipe, embeds each chunk and
// upserts it into one collection.
type IndexUseCase struct {
	walker     port.FileWalker
	extractor  port.TextExtractor
	chunker    port.Chunker
	embedder   port.Embedder
	store      port.VectorStore
	collection string
	recipes    []domain.Recipe

	concurrency   int
	progressEvery int
	log           zerolog.Logger
}

// IndexOptions tunes how hard the indexer drives the embedding provider.
type IndexOptions struct {
	// Concurrency is the number of chunks embedded at once. Values below 1
	// mean one at a time.
	Concurrency int
	// ProgressEvery logs a progress line after that many processed chunks.
	ProgressEvery int
}

// NewIndexUseCase creates a new index use case.
func NewIndexUseCase(
	walker port.FileWalker,
	extractor port.TextExtractor,
	chunker port.Chunker,
	embedder port.Embedder,
	store port.VectorStore,
	collection string,
	recipes []domain.Recipe,
	opts IndexOptions,
	log zerolog.Logger,
) *IndexUseCase {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ProgressEvery < 1 {
		opts.ProgressEvery = 20
	}
	return &IndexUseCase{
		walker:        walker,
		extractor:     extractor,
		chunker:       chunker,
		embedder:      embedder,
		store:         store,
		collection:    collection,
		recipes:       recipes,
		concurrency:   opts.Concurrency,
		progressEvery: opts.ProgressEvery,
		log:           log,
	}
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	Documents int
	Skipped   int
	Chunks    int
	Upserted  int
	Failed    int
	Failures  []string
	PerRecipe map[string]int
	Duration  time.Duration
}

// Progress is reported after every processed chunk.
type Progress struct {
	Processed int
	Total     int
	Failed    int
}

// ProgressFunc receives progress updates. It is called with a lock held, so
// it must not call back into the use case.
type ProgressFunc func(Progress)

type job struct {
	recipe domain.Recipe
	chunk  domain.Chunk
}

// Index indexes every ingestible file under root. Configuration problems
// (bad recipes, a collection of another dimension, no files) abort the run;
// a failing chunk is counted and skipped.
func (u *IndexUseCase) Index(ctx context.Context, root string, progress ProgressFunc) (*IndexResult, error) {
	start := time.Now()

	if len(u.recipes) == 0 {
		return nil, fmt.Errorf("%w: no recipes configured", domain.ErrInvalidRecipe)
	}
	for _, r := range u.recipes {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w under %s", domain.ErrNoDocuments, root)
	}

	if err := u.store.EnsureCollection(ctx, u.collection, u.embedder.Dimension(), port.DistanceCosine); err != nil {
		return nil, fmt.Errorf("failed to prepare collection %s: %w", u.collection, err)
	}

	result := &IndexResult{PerRecipe: make(map[string]int, len(u.recipes))}
	jobs := u.plan(root, files, result)
	result.Chunks = len(jobs)

	u.log.Info().
		Int("documents", result.Documents).
		Int("chunks", result.Chunks).
		Int("recipes", len(u.recipes)).
		Msg("indexing started")

	var (
		mu        sync.Mutex
		processed int
	)
	record := func(j job, err error) {
		mu.Lock()
		defer mu.Unlock()

		processed++
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, fmt.Sprintf("%s#%d (%s): %v", j.chunk.SourcePath, j.chunk.Index, j.recipe.Name, err))
			u.log.Warn().
				Err(err).
				Str("source", j.chunk.SourcePath).
				Str("recipe", j.recipe.Name).
				Int("chunk", j.chunk.Index).
				Msg("chunk skipped")
		} else {
			result.Upserted++
			result.PerRecipe[j.recipe.Name]++
		}

		if processed%u.progressEvery == 0 {
			u.log.Info().Int("processed", processed).Int("total", len(jobs)).Msg("indexing progress")
		}
		if progress != nil {
			progress(Progress{Processed: processed, Total: len(jobs), Failed: result.Failed})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := u.indexChunk(gctx, j)
			if errors.Is(err, domain.ErrDimensionMismatch) {
				return err
			}
			record(j, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	u.log.Info().
		Int("upserted", result.Upserted).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("indexing finished")
	return result, nil
}

// plan extracts every file and chunks it under every recipe so the total
// is known before any embedding call is made.
func (u *IndexUseCase) plan(root string, files []port.FileInfo, result *IndexResult) []job {
	var jobs []job
	for _, file := range files {
		text, err := u.extractor.Extract(file.Path)
		if err != nil {
			result.Skipped++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", file.Path, err))
			u.log.Warn().Err(err).Str("path", file.Path).Msg("file skipped")
			continue
		}
		if strings.TrimSpace(text) == "" {
			result.Skipped++
			u.log.Debug().Str("path", file.Path).Msg("empty file skipped")
			continue
		}

		doc := domain.Document{Path: sourcePath(root, file.Path), Text: text}
		result.Documents++
		for _, recipe := range u.recipes {
			for _, chunk := range u.chunker.Chunk(doc, recipe) {
				jobs = append(jobs, job{recipe: recipe, chunk: chunk})
			}
		}
	}
	return jobs
}

func (u *IndexUseCase) indexChunk(ctx context.Context, j job) error {
	vectors, err := u.embedder.Embed(ctx, []string{j.chunk.Text})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed: got %d vectors for one chunk", len(vectors))
	}
	if len(vectors[0]) != u.embedder.Dimension() {
		return fmt.Errorf("%w: chunk embedding has %d, expected %d", domain.ErrDimensionMismatch, len(vectors[0]), u.embedder.Dimension())
	}

	passage := domain.Passage{
		ID:      domain.PassageID(j.recipe.Name, j.chunk.SourcePath, j.chunk.Text),
		Vector:  vectors[0],
		Payload: domain.NewPayload(j.recipe, j.chunk),
	}
	if err := u.store.Upsert(ctx, u.collection, []domain.Passage{passage}); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// sourcePath is the slash-separated path of file relative to root, so ids
// stay the same wherever the corpus is checked out.
func sourcePath(root, path string) string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(absRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
