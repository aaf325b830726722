package domain

import "errors"

var (
	ErrInvalidRecipe      = errors.New("invalid recipe")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrNoDocuments        = errors.New("no ingestible files found")
	ErrAllRecipesFailed   = errors.New("every recipe search failed")
	ErrCollectionNotFound = errors.New("collection not found")
)
