package retriever

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"multirag/internal/domain"
	"multirag/internal/port"
)

// Retrieval is the unordered union of every recipe's hits for one query.
type Retrieval struct {
	QueryVector []float32
	Hits        []domain.SearchHit
	Failures    []domain.RecipeFailure
}

// MultiRecipeRetriever searches one collection once per recipe, each search
// filtered to that recipe's passages.
type MultiRecipeRetriever struct {
	embedder      port.Embedder
	store         port.VectorStore
	collection    string
	searchTimeout time.Duration
	log           zerolog.Logger
}

func NewMultiRecipeRetriever(
	embedder port.Embedder,
	store port.VectorStore,
	collection string,
	searchTimeout time.Duration,
	log zerolog.Logger,
) *MultiRecipeRetriever {
	return &MultiRecipeRetriever{
		embedder:      embedder,
		store:         store,
		collection:    collection,
		searchTimeout: searchTimeout,
		log:           log,
	}
}

// EmbedQuery embeds the query exactly once for all recipe searches.
func (r *MultiRecipeRetriever) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}
	if len(vectors[0]) != r.embedder.Dimension() {
		return nil, fmt.Errorf("%w: query embedding has %d, expected %d", domain.ErrDimensionMismatch, len(vectors[0]), r.embedder.Dimension())
	}
	return vectors[0], nil
}

// Retrieve embeds query and searches every recipe with it.
func (r *MultiRecipeRetriever) Retrieve(ctx context.Context, query string, recipes []string, perRecipeLimit int) (*Retrieval, error) {
	vec, err := r.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, vec, recipes, perRecipeLimit)
}

// Search runs one search per recipe concurrently and joins them all before
// returning. A failing recipe is recorded in Failures; an error is returned
// only when every recipe failed or a search reports a dimension mismatch.
func (r *MultiRecipeRetriever) Search(ctx context.Context, queryVector []float32, recipes []string, perRecipeLimit int) (*Retrieval, error) {
	if len(recipes) == 0 {
		return nil, errors.New("no recipes to search")
	}

	type slot struct {
		hits []domain.SearchHit
		err  error
	}
	slots := make([]slot, len(recipes))

	var wg sync.WaitGroup
	for i, name := range recipes {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			hits, err := r.searchRecipe(ctx, queryVector, name, perRecipeLimit)
			slots[i] = slot{hits: hits, err: err}
		}(i, name)
	}
	wg.Wait()

	result := &Retrieval{QueryVector: queryVector}
	for i, s := range slots {
		if s.err != nil {
			if errors.Is(s.err, domain.ErrDimensionMismatch) {
				return nil, s.err
			}
			r.log.Warn().Err(s.err).Str("recipe", recipes[i]).Msg("recipe search failed")
			result.Failures = append(result.Failures, domain.RecipeFailure{Recipe: recipes[i], Err: s.err})
			continue
		}
		result.Hits = append(result.Hits, s.hits...)
	}

	if len(result.Failures) == len(recipes) {
		errs := make([]error, len(result.Failures))
		for i, f := range result.Failures {
			errs[i] = f
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrAllRecipesFailed, errors.Join(errs...))
	}

	return result, nil
}

func (r *MultiRecipeRetriever) searchRecipe(ctx context.Context, vec []float32, recipe string, limit int) ([]domain.SearchHit, error) {
	if r.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.searchTimeout)
		defer cancel()
	}

	start := time.Now()
	hits, err := r.store.Search(ctx, r.collection, port.SearchRequest{
		Vector:     vec,
		Limit:      limit,
		Filter:     port.RecipeFilter(recipe),
		WithVector: true,
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug().
		Str("recipe", recipe).
		Int("hits", len(hits)).
		Dur("duration", time.Since(start)).
		Msg("recipe search completed")
	return hits, nil
}
