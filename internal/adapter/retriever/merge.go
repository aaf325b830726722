package retriever

import (
	"math"
	"sort"

	"multirag/internal/domain"
)

const cosineEpsilon = 1e-9

// Merge collapses hits that share the exact same passage text, keeping the
// occurrence with the highest base score (smaller id on a tie), rescores every
// survivor by cosine against queryVector and sorts best-first.
//
// Order: rerank desc, then base score desc, then id asc.
func Merge(hits []domain.SearchHit, queryVector []float32) []domain.MergedCandidate {
	best := make(map[string]domain.SearchHit, len(hits))
	for _, h := range hits {
		cur, ok := best[h.Payload.Text]
		if !ok || h.BaseScore > cur.BaseScore || (h.BaseScore == cur.BaseScore && h.ID < cur.ID) {
			best[h.Payload.Text] = h
		}
	}

	merged := make([]domain.MergedCandidate, 0, len(best))
	for _, h := range best {
		merged = append(merged, domain.MergedCandidate{
			ID:        h.ID,
			Payload:   h.Payload,
			BaseScore: h.BaseScore,
			Rerank:    Cosine(queryVector, h.Vector),
		})
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Rerank != b.Rerank {
			return a.Rerank > b.Rerank
		}
		if a.BaseScore != b.BaseScore {
			return a.BaseScore > b.BaseScore
		}
		return a.ID < b.ID
	})
	return merged
}

// Cosine returns dot(a,b) / (|a||b| + eps). Vectors of different length, or
// a missing vector, score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + cosineEpsilon)
}
