package domain

import (
	"fmt"
	"unicode/utf8"
)

// Recipe is a named chunking configuration applied uniformly across a corpus.
type Recipe struct {
	Name         string `json:"name"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

// Validate reports whether the recipe parameters can produce chunks.
func (r Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRecipe)
	}
	if r.ChunkSize <= 0 {
		return fmt.Errorf("%w: %s: chunk_size must be positive, got %d", ErrInvalidRecipe, r.Name, r.ChunkSize)
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("%w: %s: chunk_overlap must be in [0, %d), got %d", ErrInvalidRecipe, r.Name, r.ChunkSize, r.ChunkOverlap)
	}
	return nil
}

type Document struct {
	Path string
	Text string
}

type Chunk struct {
	RecipeName string
	SourcePath string
	Index      int
	Text       string
}

// Payload is the metadata stored next to every passage vector.
type Payload struct {
	Text         string `json:"text"`
	SourcePath   string `json:"source"`
	RecipeName   string `json:"recipe"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	Length       int    `json:"length"`
	ChunkIndex   int    `json:"chunk_index"`
}

type Passage struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// SearchHit is a single raw result of a recipe-scoped similarity search.
type SearchHit struct {
	ID        string
	BaseScore float64
	Vector    []float32
	Payload   Payload
}

// MergedCandidate is one distinct passage text after cross-recipe deduplication.
// Rerank is the cosine similarity against the query embedding; JudgeScore is
// set only when an LLM judge ordered the result.
type MergedCandidate struct {
	ID         string   `json:"id"`
	Payload    Payload  `json:"payload"`
	BaseScore  float64  `json:"base_score"`
	Rerank     float64  `json:"rerank"`
	JudgeScore *float64 `json:"judge_score,omitempty"`
}

// RecipeFailure records a recipe whose search did not complete.
type RecipeFailure struct {
	Recipe string
	Err    error
}

func (f RecipeFailure) Error() string {
	return fmt.Sprintf("recipe %s: %v", f.Recipe, f.Err)
}

// NewPayload builds the stored payload for a chunk produced under recipe.
func NewPayload(recipe Recipe, chunk Chunk) Payload {
	return Payload{
		Text:         chunk.Text,
		SourcePath:   chunk.SourcePath,
		RecipeName:   recipe.Name,
		ChunkSize:    recipe.ChunkSize,
		ChunkOverlap: recipe.ChunkOverlap,
		Length:       utf8.RuneCountInString(chunk.Text),
		ChunkIndex:   chunk.Index,
	}
}

// Field returns the string value of a payload field by its stored key.
func (p Payload) Field(key string) (string, bool) {
	switch key {
	case "recipe":
		return p.RecipeName, true
	case "source":
		return p.SourcePath, true
	case "text":
		return p.Text, true
	default:
		return "", false
	}
}
