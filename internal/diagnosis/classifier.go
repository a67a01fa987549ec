package diagnosis

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"

	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/errs"
	"github.com/abhisek/misconcept/internal/similarity"
)

// maxUnitDistance is the largest Euclidean distance between unit vectors.
// It stands in for the second-nearest distance in one-cluster generations.
const maxUnitDistance = 2.0

// Result is the outcome of classifying one response.
type Result struct {
	Kind       LabelKind `json:"kind"`
	Label      string    `json:"label"`
	ClusterID  int       `json:"cluster_id"` // nearest cluster, -1 on cold start
	Confidence float64   `json:"confidence"`
	Distance   float64   `json:"distance"`

	// ColdStart is set when the generation had no clusters.
	ColdStart bool `json:"cold_start,omitempty"`
	// OutOfDistribution is set when the nearest centroid was beyond MaxDistance.
	OutOfDistribution bool      `json:"out_of_distribution,omitempty"`
	GenerationID      uuid.UUID `json:"generation_id"`
}

// Classifier assigns responses to the nearest centroid of a Generation.
type Classifier struct {
	gen *Generation
	// MaxDistance, when positive, rejects matches whose nearest centroid is
	// further away than this (normalised Euclidean distance, 0..2).
	MaxDistance float64
}

// NewClassifier returns a Classifier over a read-only generation. A nil
// generation behaves as the cold-start taxonomy.
func NewClassifier(gen *Generation) *Classifier {
	if gen == nil {
		gen = EmptyGeneration()
	}
	return &Classifier{gen: gen}
}

// Generation returns the snapshot this classifier reads.
func (c *Classifier) Generation() *Generation { return c.gen }

// Classify labels e with the nearest cluster. Confidence is
// 1 − d1/(d1+d2) for the two nearest centroid distances: ties give 0.5 and
// an unambiguous match approaches 1. An empty generation yields
// ("unknown", 0) with ColdStart set.
func (c *Classifier) Classify(e embedding.Embedding) (Result, error) {
	if c.gen.Empty() {
		return Result{
			Kind:         LabelUnknown,
			Label:        UnknownLabel,
			ClusterID:    -1,
			ColdStart:    true,
			GenerationID: c.gen.ID,
		}, nil
	}
	if len(e) != c.gen.Dimension {
		return Result{}, errs.DimensionMismatch("embedding", -1, c.gen.Dimension, len(e))
	}

	q := e.Normalize()
	best, d1, d2 := -1, math.Inf(1), math.Inf(1)
	for i, cl := range c.gen.clusters {
		d := math.Sqrt(similarity.SquaredEuclidean(q, cl.Centroid))
		switch {
		case d < d1:
			best, d1, d2 = i, d, d1
		case d < d2:
			d2 = d
		}
	}
	if math.IsInf(d2, 1) {
		d2 = maxUnitDistance
	}

	conf := 0.5
	if d1+d2 > 0 {
		conf = 1 - d1/(d1+d2)
	}

	cl := c.gen.clusters[best]
	res := Result{
		Kind:         LabelKnown,
		Label:        cl.Label,
		ClusterID:    cl.ID,
		Confidence:   conf,
		Distance:     d1,
		GenerationID: c.gen.ID,
	}
	if c.MaxDistance > 0 && d1 > c.MaxDistance {
		res.Kind = LabelUnknown
		res.Label = UnknownLabel
		res.OutOfDistribution = true
	}
	return res, nil
}

// ClassifyItem classifies e as an answer to itemID. When the generation
// records labels for that item and the nearest cluster's label is not among
// them, the result is LabelUnseen with the label suffixed "(unseen@item)".
// An empty itemID or an unrecorded item behaves as Classify.
func (c *Classifier) ClassifyItem(e embedding.Embedding, itemID string) (Result, error) {
	res, err := c.Classify(e)
	if err != nil || itemID == "" || res.Kind != LabelKnown {
		return res, err
	}
	known, ok := c.gen.KnownLabels(itemID)
	if !ok || slices.Contains(known, res.Label) {
		return res, nil
	}
	res.Kind = LabelUnseen
	res.Label = fmt.Sprintf("%s (unseen@%s)", res.Label, itemID)
	return res, nil
}

// ClassifyBatch classifies each record and fills in its ClusterID and Label.
// Records are copied; the inputs are left untouched.
func (c *Classifier) ClassifyBatch(records []ResponseRecord) ([]ResponseRecord, []Result, error) {
	out := make([]ResponseRecord, len(records))
	results := make([]Result, len(records))
	for i, r := range records {
		res, err := c.Classify(r.Embedding)
		if err != nil {
			var shape *errs.InputShapeError
			if errors.As(err, &shape) {
				shape.Index = i
			}
			return nil, nil, err
		}
		r.Label = res.Label
		if res.Kind == LabelKnown {
			id := res.ClusterID
			r.ClusterID = &id
		} else {
			r.ClusterID = nil
		}
		out[i] = r
		results[i] = res
	}
	return out, results, nil
}
