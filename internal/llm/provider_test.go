package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tipsSchema has the shape of the answer-improvement schema: one to four
// short suggestions and nothing else.
func tipsSchema() *Schema {
	return &Schema{
		Name:        "guidance",
		Description: "Short actionable suggestions",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"suggestions": map[string]any{
					"type":     "array",
					"minItems": 1,
					"maxItems": 4,
					"items":    map[string]any{"type": "string", "minLength": 1, "maxLength": 140},
				},
			},
			"required":             []any{"suggestions"},
			"additionalProperties": false,
		},
	}
}

const goodTips = `{"suggestions":["Say what an epsilon move consumes.","Contrast it with a symbol transition."]}`

func tipsPrompt() Prompt {
	return Prompt{
		System: "You are an expert educator.",
		User:   "Question: What does an epsilon transition consume?\nStudent answer: one symbol",
		Schema: tipsSchema(),
	}
}

func TestSchema_Validate(t *testing.T) {
	s := tipsSchema()
	assert.NoError(t, s.Validate(json.RawMessage(goodTips)))

	err := s.Validate(json.RawMessage(`{"suggestions":["` + strings.Repeat("a", 141) + `"]}`))
	assert.Error(t, err, "suggestion longer than 140 characters")
	assert.Error(t, s.Validate(json.RawMessage(`{"suggestions":["a"],"extra":1}`)))
	assert.ErrorContains(t, s.Validate(json.RawMessage(`{"suggestions":`)), "not JSON")
}

func TestSchema_BadDefinition(t *testing.T) {
	s := &Schema{Name: "broken", Definition: map[string]any{"type": 12}}
	err := s.Validate(json.RawMessage(`{}`))
	assert.ErrorContains(t, err, `compile schema "broken"`)
	// The compile error sticks.
	assert.Error(t, s.Validate(json.RawMessage(`{}`)))
}

func TestStub_ChecksSchema(t *testing.T) {
	stub := NewStub(
		Reply{Content: goodTips, Usage: Usage{InputTokens: 40, OutputTokens: 18}},
		Reply{Content: `{"suggestions":[]}`},
	)
	ctx := context.Background()

	c, err := stub.Generate(ctx, tipsPrompt())
	require.NoError(t, err)
	assert.JSONEq(t, goodTips, string(c.Content))
	assert.Equal(t, 58, c.Usage.Total())

	_, err = stub.Generate(ctx, tipsPrompt())
	kind, ok := KindOf(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, KindInvalid, kind)

	_, err = stub.Generate(ctx, tipsPrompt())
	kind, _ = KindOf(err)
	assert.Equal(t, KindUnavailable, kind, "exhausted stub")
	assert.Len(t, stub.Prompts(), 3)
}

func TestPrompt_MaxTokensDefault(t *testing.T) {
	assert.Equal(t, DefaultMaxTokens, Prompt{}.maxTokens())
	assert.Equal(t, 64, Prompt{MaxTokens: 64}.maxTokens())
}

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindUnavailable, true},
		{KindRateLimited, true},
		{KindInvalid, true},
		{KindRejected, false},
		{KindTruncated, false},
		{KindRefused, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, (&Error{Kind: tt.kind}).Retryable())
		})
	}
}

func TestStatusError(t *testing.T) {
	cause := errors.New("http")
	assert.Equal(t, KindRateLimited, statusError("x", 429, cause).Kind)
	assert.Equal(t, KindRejected, statusError("x", 401, cause).Kind)
	assert.Equal(t, KindUnavailable, statusError("x", 503, cause).Kind)
	assert.ErrorIs(t, statusError("x", 503, cause), cause)
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		provider, name, want string
	}{
		{"anthropic", "", "claude-haiku-4-5"},
		{"anthropic", "sonnet", "claude-sonnet-4-5"},
		{"openai", "", "gpt-4o-mini"},
		{"openai", "nano", "gpt-4.1-nano"},
		{"gemini", "", "gemini-2.5-flash-lite"},
		{"gemini", "flash", "gemini-2.5-flash"},
		{"openai", "my-finetune", "my-finetune"},
		// Aliases are per provider.
		{"openai", "haiku", "haiku"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveModel(tt.provider, tt.name), "%s/%q", tt.provider, tt.name)
	}
}

func TestLookupCost(t *testing.T) {
	// Every catalog model, including each provider default, is priced.
	for _, m := range catalog {
		require.NotNil(t, LookupCost(m.id), m.id)
	}

	// Snapshot IDs as reported by the APIs.
	haiku := LookupCost("claude-haiku-4-5-20251001")
	require.NotNil(t, haiku)
	assert.InDelta(t, 0.001+0.0005, haiku.Cost(1000, 100), 1e-12)
	assert.NotNil(t, LookupCost("gpt-4o-mini-2024-07-18"))
	assert.NotNil(t, LookupCost("models/gemini-2.5-flash"))

	assert.Nil(t, LookupCost("gpt-3.5-turbo"))
	assert.Nil(t, LookupCost("mock"))
}
