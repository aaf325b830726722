// Package llm adapts hosted and local chat models to port.LLM. Every adapter
// returns the model's raw text; interpreting it is the caller's job.
package llm

// Options are the sampling settings shared by all adapters.
type Options struct {
	Temperature float64
	MaxTokens   int
}
