package cluster

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/abhisek/misconcept/internal/embedding"
)

// ElbowAnalysis is an inertia sweep over candidate cluster counts.
type ElbowAnalysis struct {
	KValues    []int     `json:"k_values"`
	Inertias   []float64 `json:"inertias"`
	Silhouette []Metric  `json:"silhouette"`
	OptimalK   int       `json:"optimal_k"`
}

// Elbow runs the clusterer for every k in [minK, maxK] and picks the knee of
// the inertia curve: the point furthest from the chord joining its ends.
func Elbow(ctx context.Context, points []embedding.Embedding, minK, maxK int, cfg Config) (*ElbowAnalysis, error) {
	if minK < 2 {
		minK = 2
	}
	if maxK > len(points) {
		maxK = len(points)
	}
	if minK > maxK {
		return nil, fmt.Errorf("elbow: need minK <= maxK, got %d > %d for %d points", minK, maxK, len(points))
	}

	out := &ElbowAnalysis{}
	for k := minK; k <= maxK; k++ {
		c := cfg
		c.K = k
		res, err := Run(ctx, points, c)
		if err != nil {
			return nil, fmt.Errorf("elbow k=%d: %w", k, err)
		}
		out.KValues = append(out.KValues, k)
		out.Inertias = append(out.Inertias, res.Inertia)
		out.Silhouette = append(out.Silhouette, res.Silhouette)
	}
	out.OptimalK = knee(out.KValues, out.Inertias)
	return out, nil
}

func knee(ks []int, ys []float64) int {
	n := len(ks)
	if n < 3 {
		return ks[0]
	}

	x1, y1 := float64(ks[0]), ys[0]
	x2, y2 := float64(ks[n-1]), ys[n-1]
	den := math.Hypot(y2-y1, x2-x1)

	best, bestDist := 0, 0.0
	for i := 1; i < n-1; i++ {
		x0, y0 := float64(ks[i]), ys[i]
		d := math.Abs((y2-y1)*x0-(x2-x1)*y0+x2*y1-y2*x1) / den
		if d > bestDist {
			best, bestDist = i, d
		}
	}
	return ks[best]
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
