// Package difficulty maps calibrated or estimated item difficulty onto a
// normalised [0,1] scale and then onto ordered buckets.
package difficulty

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// Bucket is a difficulty label. Easy, Medium and Hard are the defaults;
// custom bucketizers may use any labels.
type Bucket string

const (
	Easy   Bucket = "Easy"
	Medium Bucket = "Medium"
	Hard   Bucket = "Hard"
)

// Default thresholds on the normalised scale.
const (
	EasyBelow   = 0.33
	MediumBelow = 0.66
)

// Bucketizer assigns a bucket to a normalised difficulty using ordered
// thresholds. A value equal to a threshold goes to the higher bucket.
type Bucketizer struct {
	thresholds []float64
	labels     []Bucket
}

// NewBucketizer builds an N-way bucketizer. thresholds must be strictly
// increasing inside (0,1) and there must be exactly one more label than
// thresholds.
func NewBucketizer(thresholds []float64, labels []Bucket) (*Bucketizer, error) {
	if len(labels) != len(thresholds)+1 {
		return nil, fmt.Errorf("bucketizer: %d thresholds need %d labels, got %d", len(thresholds), len(thresholds)+1, len(labels))
	}
	for i, t := range thresholds {
		if math.IsNaN(t) || t <= 0 || t >= 1 {
			return nil, fmt.Errorf("bucketizer: threshold %d = %v outside (0,1)", i, t)
		}
		if i > 0 && t <= thresholds[i-1] {
			return nil, fmt.Errorf("bucketizer: thresholds must be strictly increasing, %v after %v", t, thresholds[i-1])
		}
	}
	seen := make(map[Bucket]bool, len(labels))
	for _, l := range labels {
		if l == "" || seen[l] {
			return nil, fmt.Errorf("bucketizer: labels must be non-empty and distinct, got %q", labels)
		}
		seen[l] = true
	}
	return &Bucketizer{thresholds: slices.Clone(thresholds), labels: slices.Clone(labels)}, nil
}

// DefaultBucketizer is <0.33 Easy, <0.66 Medium, otherwise Hard.
func DefaultBucketizer() *Bucketizer {
	return &Bucketizer{
		thresholds: []float64{EasyBelow, MediumBelow},
		labels:     []Bucket{Easy, Medium, Hard},
	}
}

// Bucketize maps x to its bucket. Values outside [0,1] are clamped and NaN
// is treated as 0, so every input has exactly one bucket.
func (b *Bucketizer) Bucketize(x float64) Bucket {
	if math.IsNaN(x) {
		x = 0
	}
	x = math.Max(0, math.Min(1, x))
	idx := sort.Search(len(b.thresholds), func(i int) bool { return b.thresholds[i] > x })
	return b.labels[idx]
}

// Thresholds returns a copy of the boundaries.
func (b *Bucketizer) Thresholds() []float64 { return slices.Clone(b.thresholds) }

// Labels returns a copy of the labels in ascending order of difficulty.
func (b *Bucketizer) Labels() []Bucket { return slices.Clone(b.labels) }

// QuantileBucketizer places thresholds at the empirical quantiles of values
// so that the labels split them into roughly equal groups. Useful when the
// calibrated items cluster at one end of the scale.
func QuantileBucketizer(values []float64, labels []Bucket) (*Bucketizer, error) {
	if len(labels) < 2 {
		return nil, fmt.Errorf("bucketizer: need at least 2 labels, got %d", len(labels))
	}
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, math.Max(0, math.Min(1, v)))
		}
	}
	if len(clean) < len(labels) {
		return nil, fmt.Errorf("bucketizer: %d values cannot define %d quantile buckets", len(clean), len(labels))
	}
	slices.Sort(clean)

	n := len(labels)
	thresholds := make([]float64, 0, n-1)
	for q := 1; q < n; q++ {
		t := quantile(clean, float64(q)/float64(n))
		if len(thresholds) > 0 && t <= thresholds[len(thresholds)-1] {
			return nil, fmt.Errorf("bucketizer: values too concentrated for %d distinct quantiles", n)
		}
		thresholds = append(thresholds, t)
	}
	return NewBucketizer(thresholds, labels)
}

// quantile is the linear-interpolation quantile of sorted data.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
