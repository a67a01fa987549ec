// Package cluster partitions response embeddings into misconception clusters
// with seeded k-means++ and reports silhouette and Calinski-Harabasz quality.
//
// Points are L2-normalised first and compared by Euclidean distance. On the
// unit sphere ‖a−b‖² = 2 − 2·cos(a,b), so clusters agree with the cosine
// similarity scorer.
package cluster

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/errs"
	"github.com/abhisek/misconcept/internal/similarity"
)

// Config controls one clustering run.
type Config struct {
	K             int     `yaml:"k" json:"k"`
	Seed          uint64  `yaml:"seed" json:"seed"`
	MaxIterations int     `yaml:"max_iterations" json:"max_iterations"`
	// Tolerance is the fraction of points allowed to change cluster in an
	// iteration for the run to count as converged. Zero demands a fixed point.
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
}

// DefaultConfig returns the settings used by the CLI and analyzer.
func DefaultConfig() Config {
	return Config{
		K:             5,
		Seed:          42,
		MaxIterations: 300,
		Tolerance:     0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Tolerance < 0 {
		c.Tolerance = 0
	}
	return c
}

// Cluster is one non-empty cluster of a run.
type Cluster struct {
	ID       int                 `json:"id"`
	Centroid embedding.Embedding `json:"centroid"`
	Size     int                 `json:"size"`
	// Cohesion is the mean cosine similarity of members to the centroid.
	Cohesion float64 `json:"cohesion"`
	// Members are indexes into the caller's input slice, ascending.
	Members []int `json:"members"`
}

// Result is the outcome of Run. It is never mutated after return.
type Result struct {
	RequestedK int `json:"requested_k"`
	EffectiveK int `json:"effective_k"`
	// Assignment maps each input index to a Cluster ID.
	Assignment       []int          `json:"assignment"`
	Clusters         []Cluster      `json:"clusters"`
	Inertia          float64        `json:"inertia"`
	Iterations       int            `json:"iterations"`
	Converged        bool           `json:"converged"`
	Silhouette       Metric         `json:"silhouette"`
	CalinskiHarabasz Metric         `json:"calinski_harabasz"`
	Warnings         []errs.Warning `json:"warnings,omitempty"`
}

// Run clusters points into at most cfg.K clusters.
//
// The partition depends only on the multiset of points and the seed: points
// are put in a canonical order before seeding, so permuting the input yields
// the same member sets. Clusters that end up empty are dropped and EffectiveK
// reports how many survived.
func Run(ctx context.Context, points []embedding.Embedding, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	if cfg.K < 1 {
		return nil, errs.Invalid("k", -1, "must be at least 1, got %d", cfg.K)
	}
	if len(points) == 0 {
		return nil, errs.Invalid("embeddings", -1, "no points to cluster")
	}
	if _, err := embedding.CheckDims(points); err != nil {
		return nil, err
	}

	order, unit := canonical(points)
	km, err := lloyd(ctx, unit, cfg)
	if err != nil {
		return nil, err
	}

	res := km.result(order, unit, cfg.K)
	if !res.Converged {
		res.Warnings = append(res.Warnings, errs.Warning{
			Kind:    errs.KindNonConvergence,
			Subject: "clustering",
			Message: fmt.Sprintf("assignments still changing after %d iterations", res.Iterations),
		})
	}
	return res, nil
}

// canonical returns the permutation that sorts the normalised points
// lexicographically, along with the normalised points in that order.
func canonical(points []embedding.Embedding) ([]int, [][]float64) {
	normed := make([][]float64, len(points))
	for i, p := range points {
		normed[i] = p.Normalize()
	}

	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return slices.Compare(normed[a], normed[b])
	})

	unit := make([][]float64, len(points))
	for i, idx := range order {
		unit[i] = normed[idx]
	}
	return order, unit
}

type kmeansState struct {
	centroids  [][]float64
	assign     []int
	iterations int
	converged  bool
}

func lloyd(ctx context.Context, points [][]float64, cfg Config) (*kmeansState, error) {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	st := &kmeansState{
		centroids: seedPlusPlus(points, cfg.K, rng),
		assign:    make([]int, len(points)),
	}
	for i := range st.assign {
		st.assign[i] = -1
	}

	n := float64(len(points))
	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := 0
		for i, p := range points {
			c := nearest(p, st.centroids)
			if c != st.assign[i] {
				st.assign[i] = c
				changed++
			}
		}
		st.recompute(points)
		st.iterations = iter

		if iter > 1 && float64(changed)/n <= cfg.Tolerance {
			st.converged = true
			break
		}
	}
	return st, nil
}

// seedPlusPlus picks up to k initial centroids by D² weighting. It stops
// early when every point already coincides with a chosen centroid.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, slices.Clone(points[rng.IntN(len(points))]))

	dist := make([]float64, len(points))
	for i, p := range points {
		dist[i] = similarity.SquaredEuclidean(p, centroids[0])
	}

	for len(centroids) < k {
		var total float64
		for _, d := range dist {
			total += d
		}
		if total == 0 {
			break
		}

		target := rng.Float64() * total
		pick := len(points) - 1
		var cum float64
		for i, d := range dist {
			cum += d
			if cum >= target && d > 0 {
				pick = i
				break
			}
		}

		c := slices.Clone(points[pick])
		centroids = append(centroids, c)
		for i, p := range points {
			if d := similarity.SquaredEuclidean(p, c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centroids
}

// nearest returns the index of the closest centroid; ties go to the lower index.
func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, similarity.SquaredEuclidean(p, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := similarity.SquaredEuclidean(p, centroids[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// recompute moves each centroid to the mean of its members. A centroid
// with no members keeps its position and may regain points later.
func (st *kmeansState) recompute(points [][]float64) {
	dim := len(points[0])
	sums := make([][]float64, len(st.centroids))
	counts := make([]int, len(st.centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		c := st.assign[i]
		counts[c]++
		for j, v := range p {
			sums[c][j] += v
		}
	}
	for c := range st.centroids {
		if counts[c] == 0 {
			continue
		}
		for j := range sums[c] {
			sums[c][j] /= float64(counts[c])
		}
		st.centroids[c] = sums[c]
	}
}

// result drops empty clusters, renumbers the survivors by first appearance
// in canonical order and maps everything back to input indexes.
func (st *kmeansState) result(order []int, points [][]float64, requestedK int) *Result {
	relabel := make(map[int]int)
	canonAssign := make([]int, len(points))
	for i, c := range st.assign {
		id, ok := relabel[c]
		if !ok {
			id = len(relabel)
			relabel[c] = id
		}
		canonAssign[i] = id
	}

	clusters := make([]Cluster, len(relabel))
	for old, id := range relabel {
		clusters[id] = Cluster{ID: id, Centroid: embedding.Embedding(st.centroids[old]).Clone()}
	}

	res := &Result{
		RequestedK: requestedK,
		EffectiveK: len(clusters),
		Assignment: make([]int, len(points)),
		Iterations: st.iterations,
		Converged:  st.converged,
	}
	for i, id := range canonAssign {
		res.Assignment[order[i]] = id
		cl := &clusters[id]
		cl.Size++
		cl.Members = append(cl.Members, order[i])
		res.Inertia += similarity.SquaredEuclidean(points[i], cl.Centroid)
		cos, _ := similarity.Cosine(points[i], cl.Centroid)
		cl.Cohesion += cos
	}
	for i := range clusters {
		clusters[i].Cohesion /= float64(clusters[i].Size)
		slices.Sort(clusters[i].Members)
	}
	res.Clusters = clusters

	res.Silhouette = silhouette(points, canonAssign, len(clusters))
	res.CalinskiHarabasz = calinskiHarabasz(points, canonAssign, len(clusters))
	return res
}
