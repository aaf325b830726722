package port

import (
	"context"

	"multirag/internal/domain"
)

// PayloadRecipeKey is the payload field used for recipe-scoped filtering.
const PayloadRecipeKey = "recipe"

type Distance string

const DistanceCosine Distance = "cosine"

// VectorStore stores passages and searches them by similarity.
type VectorStore interface {
	// EnsureCollection creates the collection when missing. An existing collection
	// with a different dimension yields domain.ErrDimensionMismatch.
	EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error

	// Upsert adds or overwrites passages by id.
	Upsert(ctx context.Context, collection string, passages []domain.Passage) error

	// Search returns up to req.Limit hits ordered by store score.
	Search(ctx context.Context, collection string, req SearchRequest) ([]domain.SearchHit, error)

	// Count returns the number of stored passages matching filter (nil for all).
	Count(ctx context.Context, collection string, filter *Filter) (int, error)

	Close() error
}

// Filter is an exact match on a payload field.
type Filter struct {
	Key   string
	Value string
}

// RecipeFilter scopes a search or count to one recipe.
func RecipeFilter(name string) *Filter {
	return &Filter{Key: PayloadRecipeKey, Value: name}
}

type SearchRequest struct {
	Vector     []float32
	Limit      int
	Filter     *Filter
	WithVector bool
}
