// Package embedding adapts text-embedding functions to the fixed-length
// vectors consumed by the similarity, clustering and classification engines.
package embedding

import (
	"math"
	"regexp"
	"strings"

	"github.com/abhisek/misconcept/internal/errs"
)

// Embedding is a fixed-length real vector representing a text.
// Treat values as immutable once produced; use Clone before modifying.
type Embedding []float64

// Dim returns the dimensionality.
func (e Embedding) Dim() int { return len(e) }

// Clone returns an independent copy.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Norm returns the L2 norm.
func (e Embedding) Norm() float64 {
	var sum float64
	for _, x := range e {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy. A zero vector stays zero.
func (e Embedding) Normalize() Embedding {
	out := e.Clone()
	n := e.Norm()
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}

// FromFloat32 converts a provider vector into an Embedding.
func FromFloat32(v []float32) Embedding {
	out := make(Embedding, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// CheckDims verifies that every embedding has the same dimensionality and
// returns it. An empty slice has dimensionality 0.
func CheckDims(es []Embedding) (int, error) {
	if len(es) == 0 {
		return 0, nil
	}
	dim := len(es[0])
	if dim == 0 {
		return 0, errs.Invalid("embedding", 0, "empty vector")
	}
	for i, e := range es[1:] {
		if len(e) != dim {
			return 0, errs.DimensionMismatch("embedding", i+1, dim, len(e))
		}
	}
	return dim, nil
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// CleanText trims and collapses runs of whitespace.
func CleanText(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}
