package llm

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []RequestEvent
	err    error
}

func (r *recordingSink) AppendLLMRequest(_ context.Context, data RequestEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, data)
	return r.err
}

func TestLogging_RecordsGuidanceCall(t *testing.T) {
	stub := NewStub(Reply{Content: goodTips, Usage: Usage{InputTokens: 12, OutputTokens: 7}})
	sink := &recordingSink{}
	var buf bytes.Buffer
	p := WithLogging(stub, "anthropic", sink, zerolog.New(&buf).Level(zerolog.DebugLevel))

	_, err := p.Generate(WithPurpose(context.Background(), "guidance"), tipsPrompt())
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.True(t, ev.Success)
	assert.Equal(t, "anthropic", ev.Provider)
	assert.Equal(t, "mock", ev.Model)
	assert.Equal(t, "guidance", ev.Purpose)
	assert.Equal(t, 12, ev.InputTokens)
	assert.Equal(t, 7, ev.OutputTokens)
	assert.JSONEq(t, goodTips, ev.ResponseBody)
	for _, want := range []string{"[system]\nYou are an expert educator.", "[user]\nQuestion:", "[schema: guidance]"} {
		assert.Contains(t, ev.RequestBody, want)
	}
	assert.Contains(t, buf.String(), `"purpose":"guidance"`)
}

func TestLogging_RecordsFailureKind(t *testing.T) {
	stub := NewStub(Reply{Err: &Error{Kind: KindRateLimited, Provider: "openai"}})
	sink := &recordingSink{}
	var buf bytes.Buffer
	p := WithLogging(stub, "openai", sink, zerolog.New(&buf))

	_, err := p.Generate(context.Background(), Prompt{User: "hi"})
	require.Error(t, err)
	require.Len(t, sink.events, 1)
	assert.False(t, sink.events[0].Success)
	assert.Equal(t, "openai: rate limited", sink.events[0].ErrorMessage)
	assert.Equal(t, "unknown", sink.events[0].Purpose)
	assert.Contains(t, buf.String(), `"kind":"rate limited"`)
}

func TestLogging_RecorderFailureDoesNotFailCall(t *testing.T) {
	stub := NewStub(Reply{Content: `{}`})
	p := WithLogging(stub, "mock", &recordingSink{err: errors.New("disk full")}, zerolog.Nop())
	_, err := p.Generate(context.Background(), Prompt{})
	assert.NoError(t, err)
}

func TestTranscript_NoSystemNoSchema(t *testing.T) {
	assert.Equal(t, "[user]\nhello\n", transcript(Prompt{User: "hello"}))
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, Config{Provider: "mock"}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "mock", p.ModelID())

	cfg := DefaultConfig()
	cfg.Provider = "openai"
	cfg.OpenAI.APIKey = "sk-test"
	cfg.OpenAI.Model = "nano"
	p, err = NewProvider(ctx, cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-nano", p.ModelID())
	assert.IsType(t, &bounded{}, p)

	_, err = NewProvider(ctx, Config{Provider: "anthropic"}, nil, zerolog.Nop())
	assert.Error(t, err, "anthropic without key")
	_, err = NewProvider(ctx, Config{Provider: "bedrock"}, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown LLM provider")
}

func TestBounded_AppliesTimeout(t *testing.T) {
	var deadline time.Time
	inner := providerFunc(func(ctx context.Context, _ Prompt) (*Completion, error) {
		deadline, _ = ctx.Deadline()
		return &Completion{}, nil
	})
	b := &bounded{inner: inner, timeout: time.Minute}
	_, err := b.Generate(context.Background(), Prompt{})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

type providerFunc func(context.Context, Prompt) (*Completion, error)

func (f providerFunc) Generate(ctx context.Context, p Prompt) (*Completion, error) { return f(ctx, p) }
func (f providerFunc) ModelID() string                                             { return "func" }

func TestConfig(t *testing.T) {
	for _, k := range []string{"MISCONCEPT_LLM_PROVIDER", "GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"MISCONCEPT_GEMINI_API_KEY", "MISCONCEPT_GEMINI_MODEL"} {
		t.Setenv(k, "")
	}

	_, ok := DiscoverConfig()
	assert.False(t, ok)

	t.Setenv("GEMINI_API_KEY", "g")
	t.Setenv("OPENAI_API_KEY", "o")
	cfg, ok := DiscoverConfig()
	require.True(t, ok)
	assert.Equal(t, "openai", cfg.Provider, "OpenAI is checked before Gemini")
	assert.NoError(t, cfg.Validate())

	t.Setenv("MISCONCEPT_LLM_PROVIDER", "gemini")
	t.Setenv("MISCONCEPT_GEMINI_MODEL", "flash")
	cfg = ConfigFromEnv()
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Equal(t, "flash", cfg.Gemini.Model)
	assert.ErrorContains(t, cfg.Validate(), "no API key for the gemini provider")

	assert.ErrorContains(t, Config{Provider: "nope"}.Validate(), "unknown")
	assert.NoError(t, Config{Provider: "mock"}.Validate())
}

func TestNewProviderFromEnv(t *testing.T) {
	for _, k := range []string{"MISCONCEPT_LLM_PROVIDER", "GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(k, "")
	}
	ctx := context.Background()

	_, err := NewProviderFromEnv(ctx, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotConfigured)

	t.Setenv("MISCONCEPT_LLM_PROVIDER", "mock")
	p, err := NewProviderFromEnv(ctx, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "mock", p.ModelID())
}
