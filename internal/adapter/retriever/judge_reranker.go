package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"multirag/internal/domain"
	"multirag/internal/port"
)

const DefaultMaxCandidates = 50

const judgePrompt = `You are a search relevance judge. Pick the {{.K}} passages that best answer the question.

Question: {{.Question}}

Candidate passages:
{{range .Candidates}}
[id: {{.ID}}]
{{.Payload.Text}}
{{end}}
Respond with ONLY a JSON array of exactly {{.K}} objects, most relevant first, each of the form
{"id": "<candidate id>", "score": <relevance between 0 and 1>}.
Use only ids listed above. Do not add any other text.`

var judgeTemplate = template.Must(template.New("judge").Parse(judgePrompt))

// RerankOutcome is the final ordering for a query. Fallback is set when the
// judge's output was not used, with Reason naming why.
type RerankOutcome struct {
	Results  []domain.MergedCandidate
	Fallback bool
	Reason   string
}

// JudgeReranker asks an LLM to pick and score the best candidates. Any
// failure yields the cosine ordering instead; the judge's answer is used
// whole or not at all. The call is made at most once per query.
type JudgeReranker struct {
	llm           port.LLM
	maxCandidates int
	timeout       time.Duration
	log           zerolog.Logger
}

func NewJudgeReranker(llm port.LLM, maxCandidates int, timeout time.Duration, log zerolog.Logger) *JudgeReranker {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &JudgeReranker{
		llm:           llm,
		maxCandidates: maxCandidates,
		timeout:       timeout,
		log:           log,
	}
}

// Rerank never returns an error. candidates must already be in cosine order.
// The judge must return exactly min(finalK, candidates considered) valid
// entries; anything else is discarded in favour of cosine order.
func (r *JudgeReranker) Rerank(ctx context.Context, question string, candidates []domain.MergedCandidate, finalK int) RerankOutcome {
	if finalK <= 0 || len(candidates) == 0 {
		return RerankOutcome{}
	}

	pool := candidates
	if len(pool) > r.maxCandidates {
		pool = pool[:r.maxCandidates]
	}
	want := min(finalK, len(pool))

	fallback := func(reason string, err error) RerankOutcome {
		r.log.Warn().Err(err).Str("reason", reason).Msg("judge rerank unavailable, using cosine order")
		return RerankOutcome{
			Results:  truncate(candidates, finalK),
			Fallback: true,
			Reason:   reason,
		}
	}

	prompt, err := buildJudgePrompt(question, pool, want)
	if err != nil {
		return fallback("prompt", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := r.llm.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fallback("timeout", err)
		}
		return fallback("llm error", err)
	}

	ranked, err := applyJudgement(raw, pool, want)
	if err != nil {
		r.log.Debug().Str("content", raw).Msg("rejected judge output")
		return fallback("malformed output", err)
	}

	r.log.Debug().
		Str("model", r.llm.ModelName()).
		Int("candidates", len(pool)).
		Int("selected", len(ranked)).
		Dur("duration", time.Since(start)).
		Msg("judge rerank completed")
	return RerankOutcome{Results: ranked}
}

func buildJudgePrompt(question string, pool []domain.MergedCandidate, k int) (string, error) {
	var buf bytes.Buffer
	err := judgeTemplate.Execute(&buf, struct {
		Question   string
		K          int
		Candidates []domain.MergedCandidate
	}{question, k, pool})
	if err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return buf.String(), nil
}

type judgeEntry struct {
	ID    *string  `json:"id"`
	Score *float64 `json:"score"`
}

// applyJudgement parses raw as a JSON array of {id, score} and returns the
// named candidates sorted by score. It fails unless exactly want entries are
// valid: a known id not seen before, with a finite score.
func applyJudgement(raw string, pool []domain.MergedCandidate, want int) ([]domain.MergedCandidate, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(raw)), &entries); err != nil {
		return nil, fmt.Errorf("judge output is not a JSON array: %w", err)
	}

	byID := make(map[string]domain.MergedCandidate, len(pool))
	for _, c := range pool {
		byID[c.ID] = c
	}

	seen := make(map[string]bool, len(entries))
	ranked := make([]domain.MergedCandidate, 0, want)
	for _, rawEntry := range entries {
		var e judgeEntry
		if err := json.Unmarshal(rawEntry, &e); err != nil || e.ID == nil || e.Score == nil {
			continue
		}
		c, ok := byID[*e.ID]
		if !ok || seen[*e.ID] || math.IsNaN(*e.Score) || math.IsInf(*e.Score, 0) {
			continue
		}
		seen[*e.ID] = true
		score := *e.Score
		c.JudgeScore = &score
		ranked = append(ranked, c)
	}

	if len(ranked) != want {
		return nil, fmt.Errorf("judge returned %d valid entries, expected %d", len(ranked), want)
	}

	// Stable keeps the judge's own order for equal scores.
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].JudgeScore > *ranked[j].JudgeScore
	})
	return ranked, nil
}

// stripMarkdownCodeBlock removes a surrounding ```json fence if present.
func stripMarkdownCodeBlock(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	firstNewline := strings.Index(content, "\n")
	if firstNewline == -1 {
		return content
	}
	closing := strings.LastIndex(content, "```")
	if closing <= firstNewline {
		return content
	}
	return strings.TrimSpace(content[firstNewline+1 : closing])
}

func truncate(c []domain.MergedCandidate, k int) []domain.MergedCandidate {
	if len(c) > k {
		c = c[:k]
	}
	out := make([]domain.MergedCandidate, len(c))
	copy(out, c)
	return out
}
