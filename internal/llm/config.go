package llm

import (
	"fmt"
	"os"
	"time"
)

// Config selects and configures the guidance provider.
type Config struct {
	// Provider is "anthropic", "openai", "gemini" or "mock".
	Provider string

	Anthropic AnthropicConfig
	OpenAI    OpenAIConfig
	Gemini    GeminiConfig
	Retry     RetryConfig

	// Timeout bounds one Generate call including retries.
	Timeout time.Duration
}

// AnthropicConfig holds Anthropic settings. An empty Model means
// DefaultModel("anthropic").
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIConfig holds OpenAI settings. BaseURL selects a compatible server.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GeminiConfig holds Gemini settings.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// DefaultConfig returns the defaults: two attempts inside fifteen seconds.
func DefaultConfig() Config {
	return Config{
		Provider: "anthropic",
		Retry: RetryConfig{
			MaxAttempts: 2,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     4 * time.Second,
		},
		Timeout: 15 * time.Second,
	}
}

// ConfigFromEnv reads MISCONCEPT_LLM_PROVIDER and the per-provider
// MISCONCEPT_<PROVIDER>_{API_KEY,MODEL,BASE_URL} variables over the
// defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	set := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set("MISCONCEPT_LLM_PROVIDER", &cfg.Provider)

	set("MISCONCEPT_ANTHROPIC_API_KEY", &cfg.Anthropic.APIKey)
	set("MISCONCEPT_ANTHROPIC_MODEL", &cfg.Anthropic.Model)
	set("MISCONCEPT_ANTHROPIC_BASE_URL", &cfg.Anthropic.BaseURL)

	set("MISCONCEPT_OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	set("MISCONCEPT_OPENAI_MODEL", &cfg.OpenAI.Model)
	set("MISCONCEPT_OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)

	set("MISCONCEPT_GEMINI_API_KEY", &cfg.Gemini.APIKey)
	set("MISCONCEPT_GEMINI_MODEL", &cfg.Gemini.Model)
	set("MISCONCEPT_GEMINI_BASE_URL", &cfg.Gemini.BaseURL)
	return cfg
}

// DiscoverConfig picks the first provider whose standard API key variable
// is set, checking Anthropic, OpenAI, then Gemini.
func DiscoverConfig() (Config, bool) {
	cfg := DefaultConfig()
	switch {
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		cfg.Provider = "anthropic"
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case os.Getenv("OPENAI_API_KEY") != "":
		cfg.Provider = "openai"
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	case os.Getenv("GEMINI_API_KEY") != "":
		cfg.Provider = "gemini"
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	default:
		return Config{}, false
	}
	return cfg, true
}

// Validate checks the selected provider has a key.
func (c Config) Validate() error {
	var key string
	switch c.Provider {
	case "anthropic":
		key = c.Anthropic.APIKey
	case "openai":
		key = c.OpenAI.APIKey
	case "gemini":
		key = c.Gemini.APIKey
	case "mock":
		return nil
	default:
		return fmt.Errorf("unknown LLM provider %q", c.Provider)
	}
	if key == "" {
		return fmt.Errorf("no API key for the %s provider", c.Provider)
	}
	return nil
}
