package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"multirag/internal/adapter/retriever"
	"multirag/internal/domain"
)

// Stage names one step of answering a query.
type Stage string

const (
	StageEmbedQuery Stage = "EMBED_QUERY"
	StageRetrieve   Stage = "RETRIEVE"
	StageMerge      Stage = "MERGE"
	StageRerankLLM  Stage = "RERANK_LLM"
	StageDone       Stage = "DONE"
)

// StageTrace records how long a stage took.
type StageTrace struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration"`
	Note     string        `json:"note,omitempty"`
}

// QueryOptions override the configured defaults for one query. Zero values
// keep the defaults.
type QueryOptions struct {
	FinalK         int
	PerRecipeLimit int
	// Recipes restricts the search to a subset of the configured recipes.
	Recipes []string
	// Rerank turns the LLM judge on or off; nil keeps the configured setting.
	Rerank *bool
}

// QueryResult is the ranked answer to one question.
type QueryResult struct {
	Question string                   `json:"question"`
	Results  []domain.MergedCandidate `json:"results"`
	// Candidates is the full merged list in cosine order.
	Candidates     []domain.MergedCandidate `json:"-"`
	Failures       []domain.RecipeFailure   `json:"-"`
	Reranked       bool                     `json:"reranked"`
	FallbackReason string                   `json:"fallback_reason,omitempty"`
	Trace          []StageTrace             `json:"trace"`
}

// QueryUseCase runs EMBED_QUERY, RETRIEVE, MERGE and optionally RERANK_LLM
// for a question. Only embedding and retrieval failures fail a query; the
// judge degrades to cosine order.
type QueryUseCase struct {
	retriever      *retriever.MultiRecipeRetriever
	reranker       *retriever.JudgeReranker
	recipes        []string
	finalK         int
	perRecipeLimit int
	rerank         bool
	log            zerolog.Logger
}

// NewQueryUseCase creates a query use case. reranker may be nil, which
// disables the judge stage regardless of options.
func NewQueryUseCase(
	r *retriever.MultiRecipeRetriever,
	reranker *retriever.JudgeReranker,
	recipes []string,
	finalK int,
	perRecipeLimit int,
	log zerolog.Logger,
) *QueryUseCase {
	return &QueryUseCase{
		retriever:      r,
		reranker:       reranker,
		recipes:        recipes,
		finalK:         finalK,
		perRecipeLimit: perRecipeLimit,
		rerank:         reranker != nil,
		log:            log,
	}
}

// Query answers question.
func (u *QueryUseCase) Query(ctx context.Context, question string, opts QueryOptions) (*QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is empty")
	}

	finalK := u.finalK
	if opts.FinalK > 0 {
		finalK = opts.FinalK
	}
	limit := u.perRecipeLimit
	if opts.PerRecipeLimit > 0 {
		limit = opts.PerRecipeLimit
	}
	recipes := u.recipes
	if len(opts.Recipes) > 0 {
		recipes = opts.Recipes
	}
	rerank := u.rerank
	if opts.Rerank != nil {
		rerank = *opts.Rerank && u.reranker != nil
	}

	result := &QueryResult{Question: question}
	stage := func(s Stage, started time.Time, note string) {
		result.Trace = append(result.Trace, StageTrace{Stage: s, Duration: time.Since(started), Note: note})
	}

	started := time.Now()
	vec, err := u.retriever.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	stage(StageEmbedQuery, started, "")

	started = time.Now()
	retrieval, err := u.retriever.Search(ctx, vec, recipes, limit)
	if err != nil {
		return nil, err
	}
	result.Failures = retrieval.Failures
	stage(StageRetrieve, started, "")

	started = time.Now()
	result.Candidates = retriever.Merge(retrieval.Hits, retrieval.QueryVector)
	stage(StageMerge, started, "")

	// nothing to judge without candidates
	if rerank && len(result.Candidates) > 0 {
		started = time.Now()
		outcome := u.reranker.Rerank(ctx, question, result.Candidates, finalK)
		result.Results = outcome.Results
		result.Reranked = !outcome.Fallback
		result.FallbackReason = outcome.Reason
		stage(StageRerankLLM, started, outcome.Reason)
	} else {
		result.Results = result.Candidates
		if len(result.Results) > finalK {
			result.Results = result.Results[:finalK]
		}
	}
	stage(StageDone, time.Now(), "")

	u.log.Debug().
		Int("hits", len(retrieval.Hits)).
		Int("candidates", len(result.Candidates)).
		Int("results", len(result.Results)).
		Bool("reranked", result.Reranked).
		Msg("query answered")
	return result, nil
}
