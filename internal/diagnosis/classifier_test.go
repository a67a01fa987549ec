package diagnosis

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/misconcept/internal/cluster"
	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/errs"
)

func twoClusterGeneration(t *testing.T) *Generation {
	t.Helper()
	g, err := NewGeneration([]MisconceptionCluster{
		{ID: 0, Label: "nfa-needs-epsilon", Centroid: embedding.Embedding{1, 0}, Size: 4},
		{ID: 1, Label: "union-is-concat", Centroid: embedding.Embedding{0, 1}, Size: 3},
	}, "test")
	require.NoError(t, err)
	return g
}

func TestClassify_ColdStart(t *testing.T) {
	for _, c := range []*Classifier{NewClassifier(nil), NewClassifier(EmptyGeneration())} {
		res, err := c.Classify(embedding.Embedding{0.3, 0.4})
		if err != nil {
			t.Fatalf("Classify on empty generation: %v", err)
		}
		if res.Label != UnknownLabel || res.Confidence != 0.0 {
			t.Errorf("got (%q, %v), want (%q, 0)", res.Label, res.Confidence, UnknownLabel)
		}
		if !res.ColdStart || res.Kind != LabelUnknown {
			t.Errorf("want ColdStart unknown, got %+v", res)
		}
	}
}

func TestClassify_NearestCentroid(t *testing.T) {
	c := NewClassifier(twoClusterGeneration(t))

	res, err := c.Classify(embedding.Embedding{5, 0.1})
	require.NoError(t, err)
	assert.Equal(t, LabelKnown, res.Kind)
	assert.Equal(t, "nfa-needs-epsilon", res.Label)
	assert.Equal(t, 0, res.ClusterID)
	assert.Greater(t, res.Confidence, 0.9)
	assert.LessOrEqual(t, res.Confidence, 1.0)

	exact, err := c.Classify(embedding.Embedding{0, 2})
	require.NoError(t, err)
	assert.Equal(t, 1, exact.ClusterID)
	assert.Equal(t, 1.0, exact.Confidence)
}

func TestClassify_TieGivesHalf(t *testing.T) {
	c := NewClassifier(twoClusterGeneration(t))
	res, err := c.Classify(embedding.Embedding{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Confidence, 1e-12)
}

func TestClassify_SingleCluster(t *testing.T) {
	g, err := NewGeneration([]MisconceptionCluster{{ID: 4, Centroid: embedding.Embedding{1, 0}}}, "")
	require.NoError(t, err)
	c := NewClassifier(g)

	res, err := c.Classify(embedding.Embedding{0, 1})
	require.NoError(t, err)
	d1 := math.Sqrt2
	assert.InDelta(t, 1-d1/(d1+2), res.Confidence, 1e-12)
	assert.Equal(t, "cluster-4", res.Label)
}

func TestClassify_OutOfDistribution(t *testing.T) {
	c := NewClassifier(twoClusterGeneration(t))
	c.MaxDistance = 0.5

	res, err := c.Classify(embedding.Embedding{-1, -1})
	require.NoError(t, err)
	assert.Equal(t, LabelUnknown, res.Kind)
	assert.Equal(t, UnknownLabel, res.Label)
	assert.True(t, res.OutOfDistribution)
	assert.False(t, res.ColdStart)

	res, err = c.Classify(embedding.Embedding{1, 0.05})
	require.NoError(t, err)
	assert.Equal(t, LabelKnown, res.Kind)
}

func TestClassify_DimensionMismatch(t *testing.T) {
	c := NewClassifier(twoClusterGeneration(t))
	_, err := c.Classify(embedding.Embedding{1, 0, 0})
	var shape *errs.InputShapeError
	require.True(t, errors.As(err, &shape))
}

func TestClassifyBatch(t *testing.T) {
	c := NewClassifier(twoClusterGeneration(t))
	in := []ResponseRecord{
		{ResponseID: "r1", Embedding: embedding.Embedding{1, 0}},
		{ResponseID: "r2", Embedding: embedding.Embedding{0, 1}},
	}
	out, results, err := c.ClassifyBatch(in)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NotNil(t, out[1].ClusterID)
	assert.Equal(t, 1, *out[1].ClusterID)
	assert.Equal(t, "union-is-concat", out[1].Label)
	assert.Nil(t, in[0].ClusterID, "inputs must not be modified")

	_, _, err = c.ClassifyBatch([]ResponseRecord{{Embedding: embedding.Embedding{1, 0}}, {Embedding: embedding.Embedding{1}}})
	var shape *errs.InputShapeError
	require.True(t, errors.As(err, &shape))
	assert.Equal(t, 1, shape.Index)
}

func TestNewGeneration_Validation(t *testing.T) {
	_, err := NewGeneration([]MisconceptionCluster{
		{ID: 0, Centroid: embedding.Embedding{1, 0}},
		{ID: 1, Centroid: embedding.Embedding{1, 0, 0}},
	}, "")
	assert.Error(t, err)

	_, err = NewGeneration([]MisconceptionCluster{
		{ID: 0, Centroid: embedding.Embedding{1, 0}},
		{ID: 0, Centroid: embedding.Embedding{0, 1}},
	}, "")
	assert.Error(t, err)
}

func TestGeneration_Immutable(t *testing.T) {
	centroid := embedding.Embedding{1, 0}
	g, err := NewGeneration([]MisconceptionCluster{{ID: 0, Centroid: centroid}}, "")
	require.NoError(t, err)

	centroid[0] = 99
	got := g.Clusters()
	assert.Equal(t, embedding.Embedding{1, 0}, got[0].Centroid)

	got[0].Centroid[0] = 42
	again, ok := g.Cluster(0)
	require.True(t, ok)
	assert.Equal(t, embedding.Embedding{1, 0}, again.Centroid)
}

func TestGeneration_FromClusterResult(t *testing.T) {
	points := []embedding.Embedding{{1, 0}, {1, 0.1}, {0, 1}, {0.1, 1}}
	res, err := cluster.Run(context.Background(), points, cluster.Config{K: 2, Seed: 1})
	require.NoError(t, err)

	g, err := FromClusterResult(res, map[int]string{0: "first"}, "run")
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 2, g.Dimension)

	first, _ := g.Cluster(0)
	second, _ := g.Cluster(1)
	assert.Equal(t, "first", first.Label)
	assert.Equal(t, "cluster-1", second.Label)

	pred, err := NewClassifier(g).Classify(points[0])
	require.NoError(t, err)
	assert.Equal(t, res.Assignment[0], pred.ClusterID)
}

func TestGeneration_JSONRoundTripKeepsIdentity(t *testing.T) {
	g := twoClusterGeneration(t)
	data, err := g.MarshalJSON()
	require.NoError(t, err)

	var back Generation
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, g.ID, back.ID)
	assert.Equal(t, g.Clusters(), back.Clusters())
}

func TestGeneration_ItemLabels(t *testing.T) {
	g := twoClusterGeneration(t)
	_, ok := g.KnownLabels("q1")
	assert.False(t, ok)

	labelled := g.WithItemLabels(map[string][]string{
		"q1": {"union-is-concat", "nfa-needs-epsilon", "union-is-concat", ""},
		"q2": {""},
		"":   {"nfa-needs-epsilon"},
	})
	assert.Equal(t, g.ID, labelled.ID)
	assert.Empty(t, g.ItemLabels(), "original untouched")
	assert.Equal(t, map[string][]string{"q1": {"nfa-needs-epsilon", "union-is-concat"}}, labelled.ItemLabels())

	data, err := labelled.MarshalJSON()
	require.NoError(t, err)
	var back Generation
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, labelled.ItemLabels(), back.ItemLabels())

	plain, err := g.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(plain), "item_labels")
}

func TestClassifyItem(t *testing.T) {
	g := twoClusterGeneration(t).WithItemLabels(map[string][]string{
		"q1": {"nfa-needs-epsilon"},
	})
	c := NewClassifier(g)
	union := embedding.Embedding{0.1, 1}

	tests := []struct {
		name  string
		item  string
		kind  LabelKind
		label string
	}{
		{"no item", "", LabelKnown, "union-is-concat"},
		{"unrecorded item", "q7", LabelKnown, "union-is-concat"},
		{"label outside item set", "q1", LabelUnseen, "union-is-concat (unseen@q1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.ClassifyItem(union, tt.item)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.label, res.Label)
			assert.Equal(t, 1, res.ClusterID)
		})
	}

	res, err := c.ClassifyItem(embedding.Embedding{1, 0.1}, "q1")
	require.NoError(t, err)
	assert.Equal(t, LabelKnown, res.Kind, "label recorded for q1")

	res, err = c.ClassifyItem(union, "q1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, Risk(res), 0.5)

	c.MaxDistance = 0.01
	res, err = c.ClassifyItem(embedding.Embedding{-1, -1}, "q1")
	require.NoError(t, err)
	assert.Equal(t, LabelUnknown, res.Kind, "unknown is never rewritten")

	cold, err := NewClassifier(nil).ClassifyItem(union, "q1")
	require.NoError(t, err)
	assert.True(t, cold.ColdStart)
}

func TestHolder_PublishSwaps(t *testing.T) {
	var h Holder
	assert.True(t, h.Load().Empty())

	g := twoClusterGeneration(t)
	prev := h.Publish(g)
	assert.Nil(t, prev)
	assert.Same(t, g, h.Load())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				gen := h.Load()
				if _, err := NewClassifier(gen).Classify(embedding.Embedding{1, 0}); err != nil {
					t.Errorf("classify: %v", err)
				}
			}
		}()
	}
	for j := 0; j < 10; j++ {
		h.Publish(twoClusterGeneration(t))
	}
	wg.Wait()
}

func TestRiskAndSeverity(t *testing.T) {
	tests := []struct {
		res      Result
		risk     float64
		severity Severity
	}{
		{Result{Kind: LabelKnown, Confidence: 0.95}, 0.2, SeverityLow},
		{Result{Kind: LabelKnown, Confidence: 0.5}, 0.5, SeverityModerate},
		{Result{Kind: LabelKnown, Confidence: 0.1}, 0.9, SeverityHigh},
		{Result{Kind: LabelUnknown, Confidence: 0.0}, 0.4, SeverityModerate},
		{Result{Kind: LabelUnseen, Confidence: 0.95}, 0.5, SeverityModerate},
		{Result{Kind: LabelUnseen, Confidence: 0.2}, 0.8, SeverityHigh},
	}
	for _, tt := range tests {
		r := Risk(tt.res)
		if math.Abs(r-tt.risk) > 1e-12 {
			t.Errorf("Risk(%+v) = %v, want %v", tt.res, r, tt.risk)
		}
		if s := SeverityOf(r); s != tt.severity {
			t.Errorf("SeverityOf(%v) = %q, want %q", r, s, tt.severity)
		}
	}
}
