package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewProvider builds the configured provider wrapped, outermost first, in
// the call timeout, retries and logging. The mock provider is a bare Stub
// with no replies, so every call falls back to template guidance.
func NewProvider(ctx context.Context, cfg Config, recorder EventRecorder, log zerolog.Logger) (Provider, error) {
	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropic(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAI(cfg.OpenAI)
	case "gemini":
		base, err = NewGemini(ctx, cfg.Gemini)
	case "mock":
		return NewStub(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	p := WithLogging(base, cfg.Provider, recorder, log.With().Str("provider", cfg.Provider).Logger())
	p = WithRetry(p, cfg.Retry)
	if cfg.Timeout > 0 {
		p = &bounded{inner: p, timeout: cfg.Timeout}
	}
	log.Debug().Str("provider", cfg.Provider).Str("model", base.ModelID()).Msg("guidance provider ready")
	return p, nil
}

// ErrNotConfigured is returned by NewProviderFromEnv when no provider is
// selected and no API key is found.
var ErrNotConfigured = errors.New("no LLM provider configured")

// NewProviderFromEnv builds a provider from MISCONCEPT_LLM_PROVIDER and its
// settings, or failing that from the first standard API key variable set.
func NewProviderFromEnv(ctx context.Context, recorder EventRecorder, log zerolog.Logger) (Provider, error) {
	var cfg Config
	if os.Getenv("MISCONCEPT_LLM_PROVIDER") != "" {
		cfg = ConfigFromEnv()
	} else {
		var ok bool
		if cfg, ok = DiscoverConfig(); !ok {
			return nil, ErrNotConfigured
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewProvider(ctx, cfg, recorder, log)
}

type bounded struct {
	inner   Provider
	timeout time.Duration
}

func (b *bounded) ModelID() string { return b.inner.ModelID() }

func (b *bounded) Generate(ctx context.Context, p Prompt) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Generate(ctx, p)
}
