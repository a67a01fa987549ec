package embedding

import (
	"context"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/abhisek/misconcept/internal/errs"
)

const (
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
	defaultOpenAIDimension      = 1536
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	dim     int
	limiter *rate.Limiter
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API.
func NewOpenAIEmbedder(cfg Config) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required for embeddings")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return newOpenAIEmbedder(openai.NewClientWithConfig(config), cfg), nil
}

func newOpenAIEmbedder(client *openai.Client, cfg Config) *OpenAIEmbedder {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = defaultOpenAIDimension
	}

	e := &OpenAIEmbedder{client: client, model: model, dim: dim}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return e
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = CleanText(t)
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      input,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([]Embedding, len(data))
	for i, d := range data {
		if len(d.Embedding) != e.dim {
			return nil, errs.DimensionMismatch("embedding", i, e.dim, len(d.Embedding))
		}
		out[i] = FromFloat32(d.Embedding)
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dim }

func (e *OpenAIEmbedder) Name() string { return e.model }
