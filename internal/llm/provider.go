// Package llm asks a hosted model for short structured completions. The
// engine uses it for one thing: turning a diagnosed answer into a handful
// of improvement suggestions, so every call is single-turn, small and
// schema-bound.
package llm

import (
	"context"
	"encoding/json"
)

// Provider produces one structured completion per call.
type Provider interface {
	// Generate sends the prompt and returns the model's JSON. When the
	// prompt carries a Schema the content has been validated against it.
	Generate(ctx context.Context, p Prompt) (*Completion, error)

	// ModelID is the resolved model identifier, as priced by LookupCost.
	ModelID() string
}

// Prompt is a single-turn request.
type Prompt struct {
	System string
	User   string

	// Schema, when set, is passed to the provider's structured output mode
	// and checked on the way back.
	Schema *Schema

	// MaxTokens caps the completion. Zero means DefaultMaxTokens.
	MaxTokens int
	// Temperature in [0, 1]; zero leaves the provider default.
	Temperature float64
}

// DefaultMaxTokens fits four short suggestions with room for the JSON
// envelope.
const DefaultMaxTokens = 256

func (p Prompt) maxTokens() int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return DefaultMaxTokens
}

// Completion is the model's answer.
type Completion struct {
	Content json.RawMessage
	Usage   Usage
	// Model is the model that served the request, which may be a dated
	// snapshot of ModelID.
	Model string
}

// Usage counts tokens for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total is input plus output.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }
