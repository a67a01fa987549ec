package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Gemini calls the Gemini API with a response schema.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the provider. cfg.Model may be an alias ("flash",
// "flash-lite"), a model ID, or empty for the default.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: resolveModel("gemini", cfg.Model)}, nil
}

func (p *Gemini) ModelID() string { return p.model }

func (p *Gemini) Generate(ctx context.Context, pr Prompt) (*Completion, error) {
	gc := &genai.GenerateContentConfig{MaxOutputTokens: int32(pr.maxTokens())}
	if pr.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(pr.Temperature))
	}
	if pr.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(pr.System, genai.RoleUser)
	}
	if pr.Schema != nil {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseSchema = geminiSchema(pr.Schema.Definition)
	}

	res, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(pr.User), gc)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, statusError("gemini", apiErr.Code, err)
		}
		return nil, &Error{Kind: KindUnavailable, Provider: "gemini", Err: err}
	}

	if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		return nil, &Error{Kind: KindRefused, Provider: "gemini",
			Err: fmt.Errorf("prompt blocked: %s", res.PromptFeedback.BlockReason)}
	}
	content := json.RawMessage(res.Text())
	if len(res.Candidates) > 0 {
		switch res.Candidates[0].FinishReason {
		case genai.FinishReasonMaxTokens:
			return nil, &Error{Kind: KindTruncated, Provider: "gemini", Content: content}
		case genai.FinishReasonSafety:
			return nil, &Error{Kind: KindRefused, Provider: "gemini", Content: content}
		}
	}
	if err := checkContent("gemini", pr, content); err != nil {
		return nil, err
	}

	out := &Completion{Content: content, Model: p.model}
	if res.ModelVersion != "" {
		out.Model = res.ModelVersion
	}
	if u := res.UsageMetadata; u != nil {
		out.Usage = Usage{InputTokens: int(u.PromptTokenCount), OutputTokens: int(u.CandidatesTokenCount)}
	}
	return out, nil
}

// geminiSchema converts the JSON Schema subset our prompts use into the
// OpenAPI-style schema Gemini accepts. additionalProperties has no
// equivalent and is dropped; the response is validated afterwards anyway.
func geminiSchema(def map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := def["type"].(string); ok {
		s.Type = geminiTypes[t]
	}
	if d, ok := def["description"].(string); ok {
		s.Description = d
	}
	if props, ok := def["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			if sub, ok := v.(map[string]any); ok {
				s.Properties[name] = geminiSchema(sub)
			}
		}
	}
	s.Required = stringList(def["required"])
	s.Enum = stringList(def["enum"])
	if items, ok := def["items"].(map[string]any); ok {
		s.Items = geminiSchema(items)
	}
	s.MinItems = intBound(def["minItems"])
	s.MaxItems = intBound(def["maxItems"])
	s.MinLength = intBound(def["minLength"])
	s.MaxLength = intBound(def["maxLength"])
	return s
}

var geminiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

func stringList(v any) []string {
	var out []string
	switch vs := v.(type) {
	case []string:
		out = append(out, vs...)
	case []any:
		for _, e := range vs {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func intBound(v any) *int64 {
	switch n := v.(type) {
	case int:
		return genai.Ptr(int64(n))
	case int64:
		return genai.Ptr(n)
	case float64:
		return genai.Ptr(int64(n))
	}
	return nil
}
