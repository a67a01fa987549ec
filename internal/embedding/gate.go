package embedding

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/misconcept/internal/errs"
)

// Gate is a learned per-feature attenuation applied between the embedder
// and the clustering and classification engines:
//
//	g  = sigmoid(W2 · silu(W1 · h + B1) + B2)
//	h' = g ⊙ h
//
// An input shorter than W1's width is zero-padded and a longer one
// truncated; a gate vector shorter than the input is padded with ones
// (those features pass unchanged) and a longer one truncated. A nil *Gate
// is the identity.
type Gate struct {
	ID        uuid.UUID   `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	W1        [][]float64 `json:"w1"`
	B1        []float64   `json:"b1"`
	W2        [][]float64 `json:"w2"`
	B2        []float64   `json:"b2"`
}

// NewGate validates the weights and wraps them in a new Gate.
func NewGate(w1 [][]float64, b1 []float64, w2 [][]float64, b2 []float64) (*Gate, error) {
	g := &Gate{ID: uuid.New(), CreatedAt: time.Now().UTC(), W1: w1, B1: b1, W2: w2, B2: b2}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks that the layers chain: W1 is hidden×in with len(B1) ==
// hidden, W2 is out×hidden with len(B2) == out.
func (g *Gate) Validate() error {
	hidden := len(g.W1)
	if hidden == 0 || len(g.W2) == 0 {
		return errs.Invalid("gate", -1, "empty weight matrix")
	}
	if len(g.B1) != hidden {
		return errs.DimensionMismatch("gate b1", -1, hidden, len(g.B1))
	}
	if len(g.B2) != len(g.W2) {
		return errs.DimensionMismatch("gate b2", -1, len(g.W2), len(g.B2))
	}
	in := len(g.W1[0])
	if in == 0 {
		return errs.Invalid("gate w1", 0, "empty row")
	}
	for i, row := range g.W1 {
		if len(row) != in {
			return errs.DimensionMismatch("gate w1 row", i, in, len(row))
		}
	}
	for i, row := range g.W2 {
		if len(row) != hidden {
			return errs.DimensionMismatch("gate w2 row", i, hidden, len(row))
		}
	}
	return nil
}

// InputDim is the embedding width the gate was trained on.
func (g *Gate) InputDim() int { return len(g.W1[0]) }

// Activations returns the gate vector for h, one value in (0, 1) per
// feature of h. The identity gate returns all ones.
func (g *Gate) Activations(h Embedding) Embedding {
	out := make(Embedding, len(h))
	if g == nil {
		for i := range out {
			out[i] = 1
		}
		return out
	}

	hidden := make([]float64, len(g.W1))
	for j, row := range g.W1 {
		z := g.B1[j]
		for k, w := range row {
			if k < len(h) {
				z += w * h[k]
			}
		}
		hidden[j] = z * sigmoid(z)
	}
	for i := range out {
		if i >= len(g.W2) {
			out[i] = 1
			continue
		}
		z := g.B2[i]
		for j, w := range g.W2[i] {
			z += w * hidden[j]
		}
		out[i] = sigmoid(z)
	}
	return out
}

// Apply returns the attenuated copy of h. The identity gate returns h.
func (g *Gate) Apply(h Embedding) Embedding {
	if g == nil {
		return h
	}
	out := g.Activations(h)
	for i := range out {
		out[i] *= h[i]
	}
	return out
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// GatedEmbedder applies a Gate to another Embedder's vectors.
type GatedEmbedder struct {
	inner Embedder
	gate  *Gate
}

// WithGate wraps e so every vector passes through g. A nil gate returns e
// unchanged.
func WithGate(e Embedder, g *Gate) Embedder {
	if g == nil {
		return e
	}
	return &GatedEmbedder{inner: e, gate: g}
}

func (e *GatedEmbedder) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	vecs, err := e.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]Embedding, len(vecs))
	for i, v := range vecs {
		out[i] = e.gate.Apply(v)
	}
	return out, nil
}

func (e *GatedEmbedder) Dimension() int { return e.inner.Dimension() }

// Name tags the inner name with the gate, so taxonomies built in the gated
// space record which gate produced it.
func (e *GatedEmbedder) Name() string {
	return e.inner.Name() + "+gate-" + e.gate.ID.String()[:8]
}
