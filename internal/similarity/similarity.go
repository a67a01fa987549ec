// Package similarity scores semantic closeness between two embeddings.
//
// The score is raw cosine similarity clamped to [-1, 1]. A zero-norm input
// carries no direction, so it scores the sentinel ZeroNormScore rather than
// failing.
package similarity

import (
	"math"

	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/errs"
)

// ZeroNormScore is returned when either embedding has zero norm.
const ZeroNormScore = 0.0

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Mismatched dimensionality is an *errs.InputShapeError.
func Cosine(a, b embedding.Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, errs.DimensionMismatch("embedding", 1, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return ZeroNormScore, nil
	}

	s := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clamp(s, -1, 1), nil
}

// Score is Cosine rounded to four decimals for presentation.
func Score(a, b embedding.Embedding) (float64, error) {
	s, err := Cosine(a, b)
	if err != nil {
		return 0, err
	}
	return Round(s, 4), nil
}

// Distance is the clustering metric: Euclidean distance between the
// unit-normalised vectors. For non-zero inputs it equals sqrt(2 - 2*cosine),
// so ordering by Distance is ordering by Cosine.
func Distance(a, b embedding.Embedding) float64 {
	return math.Sqrt(SquaredEuclidean(a.Normalize(), b.Normalize()))
}

// SquaredEuclidean is the squared L2 distance. Callers guarantee equal length.
func SquaredEuclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
