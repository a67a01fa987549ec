package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicServer(t *testing.T, status int, body map[string]any, seen *map[string]any) *Anthropic {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	p, err := NewAnthropic(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return p
}

func anthropicMessage(text, stop string) map[string]any {
	return map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": stop,
		"usage":       map[string]any{"input_tokens": 120, "output_tokens": 34},
	}
}

func TestAnthropic_Guidance(t *testing.T) {
	var seen map[string]any
	p := anthropicServer(t, http.StatusOK, anthropicMessage(goodTips, "end_turn"), &seen)
	assert.Equal(t, "claude-haiku-4-5", p.ModelID())

	c, err := p.Generate(context.Background(), tipsPrompt())
	require.NoError(t, err)
	assert.JSONEq(t, goodTips, string(c.Content))
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 34}, c.Usage)
	assert.NotNil(t, LookupCost(c.Model), "served model %q must be priced", c.Model)

	assert.Equal(t, "claude-haiku-4-5", seen["model"])
	assert.EqualValues(t, DefaultMaxTokens, seen["max_tokens"])
	format := seen["output_config"].(map[string]any)["format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	assert.Contains(t, format["schema"].(map[string]any)["properties"], "suggestions")
	msgs := seen["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestAnthropic_Failures(t *testing.T) {
	apiError := func(typ string) map[string]any {
		return map[string]any{"type": "error", "error": map[string]any{"type": typ, "message": typ}}
	}
	tests := []struct {
		name   string
		status int
		body   map[string]any
		want   ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, apiError("rate_limit_error"), KindRateLimited},
		{"overloaded", 529, apiError("overloaded_error"), KindUnavailable},
		{"bad key", http.StatusUnauthorized, apiError("authentication_error"), KindRejected},
		{"truncated", http.StatusOK, anthropicMessage(`{"suggestions":["Say wh`, "max_tokens"), KindTruncated},
		{"refused", http.StatusOK, anthropicMessage("", "refusal"), KindRefused},
		{"five tips", http.StatusOK, anthropicMessage(`{"suggestions":["a","b","c","d","e"]}`, "end_turn"), KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := anthropicServer(t, tt.status, tt.body, nil)
			_, err := p.Generate(context.Background(), tipsPrompt())
			kind, ok := KindOf(err)
			require.True(t, ok, "got %T %v", err, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestNewAnthropic_RequiresKey(t *testing.T) {
	_, err := NewAnthropic(AnthropicConfig{})
	assert.Error(t, err)
}
