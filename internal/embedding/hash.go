package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// DefaultHashDimension is the output size of the hashing embedder.
const DefaultHashDimension = 256

var tokenSplitRE = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// HashEmbedder is a deterministic bag-of-words embedder using the hashing
// trick: each token (and adjacent-token pair) is hashed to a signed bucket.
// It needs no model download, so texts sharing vocabulary land close
// together and identical texts produce identical vectors.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hashing embedder. dim <= 0 selects the default.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Name() string { return fmt.Sprintf("hash-bow-%d", h.dim) }

func (h *HashEmbedder) embed(text string) Embedding {
	vec := make(Embedding, h.dim)
	toks := tokenize(text)
	for i, tok := range toks {
		h.add(vec, tok, 1.0)
		if i > 0 {
			h.add(vec, toks[i-1]+" "+tok, 0.5)
		}
	}
	return vec.Normalize()
}

func (h *HashEmbedder) add(vec Embedding, feature string, weight float64) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(s string) []string {
	parts := tokenSplitRE.Split(strings.ToLower(CleanText(s)), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
