package cluster

import (
	"math"

	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/errs"
	"github.com/abhisek/misconcept/internal/similarity"
)

// Metric is a quality score that may be undefined for the given partition
// (fewer than two clusters, or no more points than clusters).
type Metric struct {
	Value   float64 `json:"value"`
	Defined bool    `json:"defined"`
}

func (m Metric) String() string {
	if !m.Defined {
		return "undefined"
	}
	return formatFloat(m.Value)
}

func undefined() Metric { return Metric{} }

// Silhouette computes the mean silhouette coefficient of an arbitrary
// labelling, using the same normalised Euclidean metric as Run.
func Silhouette(points []embedding.Embedding, labels []int) (Metric, error) {
	unit, dense, k, err := prepare(points, labels)
	if err != nil {
		return undefined(), err
	}
	return silhouette(unit, dense, k), nil
}

// CalinskiHarabasz computes the variance-ratio criterion of an arbitrary
// labelling on the normalised points.
func CalinskiHarabasz(points []embedding.Embedding, labels []int) (Metric, error) {
	unit, dense, k, err := prepare(points, labels)
	if err != nil {
		return undefined(), err
	}
	return calinskiHarabasz(unit, dense, k), nil
}

// prepare normalises points and maps arbitrary labels onto 0..k-1.
func prepare(points []embedding.Embedding, labels []int) ([][]float64, []int, int, error) {
	if len(points) != len(labels) {
		return nil, nil, 0, errs.DimensionMismatch("labels", -1, len(points), len(labels))
	}
	if _, err := embedding.CheckDims(points); err != nil {
		return nil, nil, 0, err
	}

	unit := make([][]float64, len(points))
	for i, p := range points {
		unit[i] = p.Normalize()
	}
	ids := make(map[int]int)
	dense := make([]int, len(labels))
	for i, l := range labels {
		id, ok := ids[l]
		if !ok {
			id = len(ids)
			ids[l] = id
		}
		dense[i] = id
	}
	return unit, dense, len(ids), nil
}

func silhouette(points [][]float64, labels []int, k int) Metric {
	n := len(points)
	if k < 2 || n <= k {
		return undefined()
	}

	sizes := make([]int, k)
	for _, l := range labels {
		sizes[l]++
	}

	var total float64
	sums := make([]float64, k)
	for i := range points {
		clear(sums)
		for j := range points {
			if i == j {
				continue
			}
			sums[labels[j]] += math.Sqrt(similarity.SquaredEuclidean(points[i], points[j]))
		}

		own := labels[i]
		if sizes[own] == 1 {
			continue // singleton contributes 0
		}
		a := sums[own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own {
				continue
			}
			if m := sums[c] / float64(sizes[c]); m < b {
				b = m
			}
		}
		if denom := math.Max(a, b); denom > 0 {
			total += (b - a) / denom
		}
	}
	return Metric{Value: total / float64(n), Defined: true}
}

func calinskiHarabasz(points [][]float64, labels []int, k int) Metric {
	n := len(points)
	if k < 2 || n <= k {
		return undefined()
	}
	dim := len(points[0])

	mean := make([]float64, dim)
	centroids := make([][]float64, k)
	sizes := make([]int, k)
	for c := range centroids {
		centroids[c] = make([]float64, dim)
	}
	for i, p := range points {
		sizes[labels[i]]++
		for j, v := range p {
			mean[j] += v
			centroids[labels[i]][j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	for c := range centroids {
		for j := range centroids[c] {
			centroids[c][j] /= float64(sizes[c])
		}
	}

	var between, within float64
	for c := range centroids {
		between += float64(sizes[c]) * similarity.SquaredEuclidean(centroids[c], mean)
	}
	for i, p := range points {
		within += similarity.SquaredEuclidean(p, centroids[labels[i]])
	}
	if within == 0 {
		return Metric{Value: 1, Defined: true}
	}
	return Metric{
		Value:   (between / float64(k-1)) / (within / float64(n-k)),
		Defined: true,
	}
}
