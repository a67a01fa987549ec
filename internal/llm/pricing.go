package llm

import (
	"regexp"
	"strings"
)

// ModelCost is USD per million tokens.
type ModelCost struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost prices a call.
func (c ModelCost) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*c.InputPerMTok/1_000_000 +
		float64(outputTokens)*c.OutputPerMTok/1_000_000
}

// model is one entry of the guidance catalog. The first entry per provider
// is its default: the cheapest model that reliably follows a small JSON
// schema.
type model struct {
	provider string
	id       string
	alias    string
	cost     ModelCost
}

var catalog = []model{
	{"anthropic", "claude-haiku-4-5", "haiku", ModelCost{1, 5}},
	{"anthropic", "claude-sonnet-4-5", "sonnet", ModelCost{3, 15}},

	{"openai", "gpt-4o-mini", "mini", ModelCost{0.15, 0.6}},
	{"openai", "gpt-4.1-nano", "nano", ModelCost{0.1, 0.4}},
	{"openai", "gpt-4.1-mini", "", ModelCost{0.4, 1.6}},

	{"gemini", "gemini-2.5-flash-lite", "flash-lite", ModelCost{0.1, 0.4}},
	{"gemini", "gemini-2.5-flash", "flash", ModelCost{0.3, 2.5}},
}

// DefaultModel returns the model used for a provider when none is set.
func DefaultModel(provider string) string {
	for _, m := range catalog {
		if m.provider == provider {
			return m.id
		}
	}
	return ""
}

// resolveModel expands an alias and fills in the provider default. Unknown
// names pass through so any model the API accepts can be used.
func resolveModel(provider, name string) string {
	if name == "" {
		return DefaultModel(provider)
	}
	for _, m := range catalog {
		if m.provider == provider && m.alias == name {
			return m.id
		}
	}
	return name
}

var snapshotSuffix = regexp.MustCompile(`-(\d{8}|\d{4}-\d{2}-\d{2})$`)

// LookupCost prices a model as reported by the API, which may carry a
// dated snapshot suffix. It returns nil for models outside the catalog.
func LookupCost(modelID string) *ModelCost {
	base := snapshotSuffix.ReplaceAllString(strings.TrimPrefix(modelID, "models/"), "")
	for _, m := range catalog {
		if m.id == base {
			c := m.cost
			return &c
		}
	}
	return nil
}
