package retriever

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"multirag/internal/domain"
)

type scriptedLLM struct {
	response string
	err      error
	delay    time.Duration
	calls    int
	prompt   string
}

func (l *scriptedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	l.calls++
	l.prompt = prompt
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return l.response, l.err
}

func (l *scriptedLLM) ModelName() string { return "scripted" }

// candidates returns n candidates c00..c(n-1) in cosine order.
func candidates(n int) []domain.MergedCandidate {
	out := make([]domain.MergedCandidate, n)
	for i := range out {
		out[i] = domain.MergedCandidate{
			ID:      fmt.Sprintf("c%02d", i),
			Payload: domain.Payload{Text: fmt.Sprintf("passage %d", i)},
			Rerank:  1 - float64(i)/100,
		}
	}
	return out
}

func ids(c []domain.MergedCandidate) []string {
	out := make([]string, len(c))
	for i := range c {
		out[i] = c[i].ID
	}
	return out
}

func TestJudgeRerankerAppliesValidJudgement(t *testing.T) {
	llm := &scriptedLLM{response: `[{"id":"c04","score":0.9},{"id":"c01","score":0.95},{"id":"c07","score":0.2}]`}
	r := NewJudgeReranker(llm, 50, time.Second, zerolog.Nop())

	cands := candidates(10)
	out := r.Rerank(context.Background(), "q", cands, 3)

	if out.Fallback {
		t.Fatalf("unexpected fallback: %s", out.Reason)
	}
	if got := ids(out.Results); !reflect.DeepEqual(got, []string{"c01", "c04", "c07"}) {
		t.Errorf("got %v", got)
	}
	if out.Results[0].JudgeScore == nil || *out.Results[0].JudgeScore != 0.95 {
		t.Errorf("expected judge score to be recorded")
	}
	if out.Results[0].Rerank != cands[1].Rerank {
		t.Errorf("expected cosine rerank to be preserved, got %f", out.Results[0].Rerank)
	}
}

func TestJudgeRerankerStripsFence(t *testing.T) {
	llm := &scriptedLLM{response: "```json\n[{\"id\":\"c02\",\"score\":1},{\"id\":\"c00\",\"score\":0.5}]\n```"}
	r := NewJudgeReranker(llm, 50, 0, zerolog.Nop())

	out := r.Rerank(context.Background(), "q", candidates(5), 2)
	if out.Fallback {
		t.Fatalf("unexpected fallback: %s", out.Reason)
	}
	if got := ids(out.Results); !reflect.DeepEqual(got, []string{"c02", "c00"}) {
		t.Errorf("got %v", got)
	}
}

func TestJudgeRerankerFallsBackToCosineOrder(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"not json", "c01, c02, c03", nil},
		{"object not array", `{"id":"c01","score":1}`, nil},
		{"too few", `[{"id":"c01","score":1},{"id":"c02","score":0.5}]`, nil},
		{"too many", `[{"id":"c01","score":1},{"id":"c02","score":0.9},{"id":"c03","score":0.8},{"id":"c04","score":0.7}]`, nil},
		{"unknown id", `[{"id":"c01","score":1},{"id":"zzz","score":0.9},{"id":"c03","score":0.8}]`, nil},
		{"duplicate id", `[{"id":"c01","score":1},{"id":"c01","score":0.9},{"id":"c03","score":0.8}]`, nil},
		{"missing score", `[{"id":"c01","score":1},{"id":"c02"},{"id":"c03","score":0.8}]`, nil},
		{"string score", `[{"id":"c01","score":1},{"id":"c02","score":"high"},{"id":"c03","score":0.8}]`, nil},
		{"null", `null`, nil},
		{"llm error", "", errors.New("503 service unavailable")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cands := candidates(8)
			llm := &scriptedLLM{response: tc.response, err: tc.err}
			r := NewJudgeReranker(llm, 50, time.Second, zerolog.Nop())

			out := r.Rerank(context.Background(), "q", cands, 3)

			if !out.Fallback {
				t.Fatal("expected fallback")
			}
			if !reflect.DeepEqual(out.Results, cands[:3]) {
				t.Errorf("fallback must equal cosine order truncated to k, got %v", ids(out.Results))
			}
			for _, c := range out.Results {
				if c.JudgeScore != nil {
					t.Errorf("fallback result %s carries a judge score", c.ID)
				}
			}
			if llm.calls != 1 {
				t.Errorf("expected exactly one judge call, got %d", llm.calls)
			}
		})
	}
}

func TestJudgeRerankerTimeout(t *testing.T) {
	llm := &scriptedLLM{response: `[{"id":"c00","score":1}]`, delay: time.Second}
	r := NewJudgeReranker(llm, 50, 20*time.Millisecond, zerolog.Nop())

	out := r.Rerank(context.Background(), "q", candidates(3), 1)
	if !out.Fallback || out.Reason != "timeout" {
		t.Errorf("expected timeout fallback, got fallback=%v reason=%q", out.Fallback, out.Reason)
	}
	if len(out.Results) != 1 || out.Results[0].ID != "c00" {
		t.Errorf("unexpected results %v", ids(out.Results))
	}
}

func TestJudgeRerankerBoundsPrompt(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("unused")}
	r := NewJudgeReranker(llm, 50, 0, zerolog.Nop())

	r.Rerank(context.Background(), "what is x?", candidates(80), 5)

	if !strings.Contains(llm.prompt, "[id: c49]") {
		t.Error("expected the 50th candidate in the prompt")
	}
	if strings.Contains(llm.prompt, "[id: c50]") {
		t.Error("expected candidates past 50 to be left out of the prompt")
	}
	if !strings.Contains(llm.prompt, "what is x?") || !strings.Contains(llm.prompt, "exactly 5 objects") {
		t.Error("expected question and k in the prompt")
	}
}

func TestJudgeRerankerFewerCandidatesThanK(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
		fallback bool
	}{
		{"whole pool judged", `[{"id":"c01","score":0.8},{"id":"c00","score":0.3}]`, []string{"c01", "c00"}, false},
		{"pool partly judged", `[{"id":"c01","score":0.8}]`, []string{"c00", "c01"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			llm := &scriptedLLM{response: tc.response}
			r := NewJudgeReranker(llm, 50, 0, zerolog.Nop())

			out := r.Rerank(context.Background(), "q", candidates(2), 5)
			if out.Fallback != tc.fallback {
				t.Fatalf("expected fallback=%v, got %v (%s)", tc.fallback, out.Fallback, out.Reason)
			}
			if got := ids(out.Results); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestJudgeRerankerNoCandidates(t *testing.T) {
	llm := &scriptedLLM{}
	out := NewJudgeReranker(llm, 0, 0, zerolog.Nop()).Rerank(context.Background(), "q", nil, 5)
	if len(out.Results) != 0 || llm.calls != 0 {
		t.Errorf("expected no results and no judge call, got %d results, %d calls", len(out.Results), llm.calls)
	}
}
