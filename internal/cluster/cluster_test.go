package cluster

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/errs"
)

// blobs returns n points around each of the given directions.
func blobs(seed uint64, n int, centers ...embedding.Embedding) []embedding.Embedding {
	rng := rand.New(rand.NewPCG(seed, seed))
	var out []embedding.Embedding
	for _, c := range centers {
		for i := 0; i < n; i++ {
			p := c.Clone()
			for j := range p {
				p[j] += (rng.Float64() - 0.5) * 0.1
			}
			out = append(out, p)
		}
	}
	return out
}

func memberSets(res *Result) []string {
	var sets []string
	for _, c := range res.Clusters {
		s := ""
		for _, m := range c.Members {
			s += string(rune('A'+m%26)) + ","
		}
		sets = append(sets, s)
	}
	sort.Strings(sets)
	return sets
}

func TestRun_SeparatesBlobs(t *testing.T) {
	points := blobs(1, 10,
		embedding.Embedding{1, 0, 0},
		embedding.Embedding{0, 1, 0},
		embedding.Embedding{0, 0, 1},
	)
	res, err := Run(context.Background(), points, Config{K: 3, Seed: 7})
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, 3, res.EffectiveK)
	assert.Empty(t, res.Warnings)
	for blob := 0; blob < 3; blob++ {
		want := res.Assignment[blob*10]
		for i := blob * 10; i < (blob+1)*10; i++ {
			assert.Equal(t, want, res.Assignment[i], "point %d", i)
		}
	}
	for _, c := range res.Clusters {
		assert.Equal(t, 10, c.Size)
		assert.Greater(t, c.Cohesion, 0.9)
	}
	require.True(t, res.Silhouette.Defined)
	assert.Greater(t, res.Silhouette.Value, 0.8)
	require.True(t, res.CalinskiHarabasz.Defined)
	assert.Greater(t, res.CalinskiHarabasz.Value, 0.0)
}

func TestRun_PermutationInvariant(t *testing.T) {
	points := blobs(3, 8,
		embedding.Embedding{1, 1, 0, 0},
		embedding.Embedding{0, 0, 1, 1},
		embedding.Embedding{1, 0, 0, 1},
	)
	base, err := Run(context.Background(), points, Config{K: 3, Seed: 11})
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(99, 99))
	for trial := 0; trial < 5; trial++ {
		perm := rng.Perm(len(points))
		shuffled := make([]embedding.Embedding, len(points))
		for i, p := range perm {
			shuffled[i] = points[p]
		}

		res, err := Run(context.Background(), shuffled, Config{K: 3, Seed: 11})
		require.NoError(t, err)

		// Map back to original indexes and compare partitions.
		for i := range points {
			for j := range points {
				sameBase := base.Assignment[perm[i]] == base.Assignment[perm[j]]
				sameRes := res.Assignment[i] == res.Assignment[j]
				if sameBase != sameRes {
					t.Fatalf("trial %d: pair (%d,%d) grouped differently", trial, perm[i], perm[j])
				}
			}
		}
		assert.InDelta(t, base.Inertia, res.Inertia, 1e-9)
	}
}

func TestRun_SameSeedSameResult(t *testing.T) {
	points := blobs(5, 6, embedding.Embedding{1, 0}, embedding.Embedding{0, 1}, embedding.Embedding{-1, 0})
	a, err := Run(context.Background(), points, Config{K: 3, Seed: 1})
	require.NoError(t, err)
	b, err := Run(context.Background(), points, Config{K: 3, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, a.Assignment, b.Assignment)
	assert.Equal(t, memberSets(a), memberSets(b))
}

func TestRun_KGreaterThanDistinctPoints(t *testing.T) {
	points := []embedding.Embedding{
		{1, 0}, {1, 0}, {2, 0}, // same direction
		{0, 1}, {0, 3},
	}
	res, err := Run(context.Background(), points, Config{K: 5, Seed: 3})
	require.NoError(t, err)

	assert.Equal(t, 5, res.RequestedK)
	assert.Equal(t, 2, res.EffectiveK)
	require.Len(t, res.Clusters, 2)
	assert.Equal(t, res.Assignment[0], res.Assignment[2])
	assert.Equal(t, res.Assignment[3], res.Assignment[4])
	assert.NotEqual(t, res.Assignment[0], res.Assignment[3])
}

func TestRun_SingleClusterMetricsUndefined(t *testing.T) {
	points := blobs(2, 5, embedding.Embedding{1, 0, 0})
	res, err := Run(context.Background(), points, Config{K: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.EffectiveK)
	assert.False(t, res.Silhouette.Defined)
	assert.False(t, res.CalinskiHarabasz.Defined)
	assert.Equal(t, "undefined", res.Silhouette.String())
}

func TestRun_NonConvergenceStillReturns(t *testing.T) {
	points := blobs(4, 20, embedding.Embedding{1, 0.2}, embedding.Embedding{0.2, 1}, embedding.Embedding{1, 1})
	res, err := Run(context.Background(), points, Config{K: 3, Seed: 5, MaxIterations: 1})
	require.NoError(t, err)

	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.Len(t, res.Assignment, len(points))
	assert.Equal(t, 1, errs.CountKind(res.Warnings, errs.KindNonConvergence))
}

func TestRun_InputErrors(t *testing.T) {
	ctx := context.Background()
	var shape *errs.InputShapeError

	_, err := Run(ctx, []embedding.Embedding{{1, 0}, {1, 0, 0}}, Config{K: 2})
	assert.True(t, errors.As(err, &shape))

	_, err = Run(ctx, nil, Config{K: 2})
	assert.True(t, errors.As(err, &shape))

	_, err = Run(ctx, []embedding.Embedding{{1, 0}}, Config{K: 0})
	assert.True(t, errors.As(err, &shape))
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, blobs(1, 3, embedding.Embedding{1, 0}), Config{K: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ZeroVectorsTolerated(t *testing.T) {
	points := []embedding.Embedding{{0, 0}, {1, 0}, {0, 1}, {0, 0}}
	res, err := Run(context.Background(), points, Config{K: 2, Seed: 9})
	require.NoError(t, err)
	assert.Equal(t, res.Assignment[0], res.Assignment[3])
}

func TestElbow(t *testing.T) {
	points := blobs(8, 10,
		embedding.Embedding{1, 0, 0},
		embedding.Embedding{0, 1, 0},
		embedding.Embedding{0, 0, 1},
	)
	an, err := Elbow(context.Background(), points, 2, 6, Config{Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 5, 6}, an.KValues)
	assert.Len(t, an.Inertias, 5)
	assert.Equal(t, 3, an.OptimalK)

	_, err = Elbow(context.Background(), points[:2], 3, 6, Config{})
	assert.Error(t, err)
}
