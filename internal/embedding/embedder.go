package embedding

import (
	"context"
	"fmt"
)

// Embedder turns texts into embeddings. Implementations must return one
// vector per input text, in order, all of length Dimension().
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]Embedding, error)

	// Dimension is the fixed output dimensionality.
	Dimension() int

	// Name identifies the model, used as part of cache keys.
	Name() string
}

// EmbedOne is a convenience wrapper for single texts.
func EmbedOne(ctx context.Context, e Embedder, text string) (Embedding, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder %s returned %d vectors for 1 text", e.Name(), len(vecs))
	}
	return vecs[0], nil
}

// Config selects and configures an Embedder.
type Config struct {
	// Provider is "hash" (offline, deterministic) or "openai".
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	APIKey    string `yaml:"-"`
	BaseURL   string `yaml:"base_url"`

	// RequestsPerSecond throttles remote providers. 0 disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// DisableGate ignores any stored Gate and uses raw embeddings.
	DisableGate bool `yaml:"disable_gate"`
}

// DefaultConfig returns the offline hashing embedder configuration.
func DefaultConfig() Config {
	return Config{
		Provider:  "hash",
		Model:     "hash-bow",
		Dimension: DefaultHashDimension,
	}
}

// New creates an Embedder from configuration.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}
