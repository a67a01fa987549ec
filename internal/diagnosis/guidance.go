package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/abhisek/misconcept/internal/llm"
)

// LowSimilarity is the answer-to-ideal similarity below which guidance asks
// for a definition and an example.
const LowSimilarity = 0.65

// GuideConfig holds configuration for the guidance generator.
type GuideConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// DefaultGuideConfig returns sensible defaults.
func DefaultGuideConfig() GuideConfig {
	return GuideConfig{
		MaxTokens:   256,
		Temperature: 0.2,
	}
}

// GuidanceRequest carries what the guide needs to know about one answer.
type GuidanceRequest struct {
	Question    string
	IdealAnswer string
	UserAnswer  string
	Label       string
	Kind        LabelKind
	Similarity  float64
}

// Guidance is a list of tips and where they came from.
type Guidance struct {
	Tips   []string `json:"tips"`
	Source string   `json:"source"` // "llm" or "template"
	// Fallback holds the LLM error that forced the template, if any.
	Fallback string `json:"-"`
}

// Text joins the tips into one paragraph.
func (g *Guidance) Text() string {
	return strings.Join(g.Tips, " ")
}

// Guide produces improvement tips for a student answer. With no provider it
// only uses the built-in template.
type Guide struct {
	provider llm.Provider
	cfg      GuideConfig
}

// NewGuide creates a guide. provider may be nil.
func NewGuide(provider llm.Provider, cfg GuideConfig) *Guide {
	return &Guide{provider: provider, cfg: cfg}
}

type guidanceOutput struct {
	Suggestions []string `json:"suggestions"`
}

// Suggest returns LLM suggestions when a provider is configured and answers
// usefully, otherwise the template tips. It never fails.
func (g *Guide) Suggest(ctx context.Context, req GuidanceRequest) *Guidance {
	if g == nil || g.provider == nil {
		return &Guidance{Tips: TemplateTips(req), Source: "template"}
	}

	tips, err := g.ask(ctx, req)
	if err != nil {
		return &Guidance{Tips: TemplateTips(req), Source: "template", Fallback: err.Error()}
	}
	return &Guidance{Tips: tips, Source: "llm"}
}

func (g *Guide) ask(ctx context.Context, req GuidanceRequest) ([]string, error) {
	ctx = llm.WithPurpose(ctx, "guidance")

	userMsg, err := buildGuidanceMessage(req)
	if err != nil {
		return nil, fmt.Errorf("build guidance prompt: %w", err)
	}

	resp, err := g.provider.Generate(ctx, llm.Prompt{
		System:      guidanceSystemPrompt,
		User:        userMsg,
		Schema:      GuidanceSchema,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM guidance failed: %w", err)
	}

	var raw guidanceOutput
	if err := json.Unmarshal(resp.Content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse guidance response: %w", err)
	}

	var tips []string
	for _, s := range raw.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			tips = append(tips, s)
		}
	}
	if len(tips) == 0 {
		return nil, fmt.Errorf("guidance response had no suggestions")
	}
	return tips, nil
}

// TemplateTips is the deterministic fallback guidance.
func TemplateTips(req GuidanceRequest) []string {
	tips := []string{"Start by restating the key term from the question in one line."}
	if req.Similarity < LowSimilarity {
		tips = append(tips, "Add a precise definition and one verifying example.")
	}
	if req.Kind != LabelUnknown {
		tips = append(tips, "Address the specific confusion noted in the label; contrast the two concepts explicitly.")
	}
	return append(tips, "Finish with a short check: why your answer satisfies the definition or rule.")
}

const guidanceSystemPrompt = `You are an expert educator. A student wrote a short free-text answer. Suggest how to improve it.

Instructions:
- Give at most 4 concise, actionable suggestions.
- Each suggestion is one short sentence under 140 characters.
- Do not number the suggestions or use any formatting.
- If an observed misconception label is given, address it directly.`

var guidanceUserTemplate = template.Must(template.New("guidance").Parse(`Question: {{.Question}}
Ideal answer: {{.IdealAnswer}}
Student answer: {{.UserAnswer}}
{{if .Label}}Observed label: {{.Label}}
{{end}}Similarity to ideal: {{printf "%.2f" .Similarity}}
`))

func buildGuidanceMessage(req GuidanceRequest) (string, error) {
	var buf bytes.Buffer
	if err := guidanceUserTemplate.Execute(&buf, req); err != nil {
		return "", err
	}
	return buf.String(), nil
}
