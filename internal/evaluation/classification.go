// Package evaluation computes offline quality reports: classification
// precision/recall/F1, clustering coherence and IRT parameter recovery.
// Nothing here sits on the serving path.
package evaluation

import (
	"slices"

	"github.com/abhisek/misconcept/internal/errs"
)

// ClassMetrics are the scores for one label.
type ClassMetrics struct {
	Label          string  `json:"label"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	Support        int     `json:"support"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
}

// ClassificationReport holds per-class and averaged scores.
type ClassificationReport struct {
	Classes        []ClassMetrics `json:"classes"`
	MacroPrecision float64        `json:"macro_precision"`
	MacroRecall    float64        `json:"macro_recall"`
	MacroF1        float64        `json:"macro_f1"`
	WeightedF1     float64        `json:"weighted_f1"`
	Accuracy       float64        `json:"accuracy"`
	Samples        int            `json:"samples"`
}

// Classification compares predicted labels with ground truth. Classes are
// the union of both label sets, sorted; a class with no predictions or no
// support scores 0 for the undefined ratio.
func Classification(predicted, truth []string) (*ClassificationReport, error) {
	if len(predicted) != len(truth) {
		return nil, errs.DimensionMismatch("predicted labels", -1, len(truth), len(predicted))
	}
	if len(truth) == 0 {
		return nil, errs.Invalid("labels", -1, "no samples")
	}

	index := map[string]*ClassMetrics{}
	get := func(l string) *ClassMetrics {
		m, ok := index[l]
		if !ok {
			m = &ClassMetrics{Label: l}
			index[l] = m
		}
		return m
	}

	correct := 0
	for i := range truth {
		p, t := predicted[i], truth[i]
		get(t).Support++
		if p == t {
			get(t).TruePositives++
			correct++
			continue
		}
		get(p).FalsePositives++
		get(t).FalseNegatives++
	}

	labels := make([]string, 0, len(index))
	for l := range index {
		labels = append(labels, l)
	}
	slices.Sort(labels)

	r := &ClassificationReport{Samples: len(truth), Accuracy: float64(correct) / float64(len(truth))}
	for _, l := range labels {
		m := index[l]
		m.Precision = Precision(m.TruePositives, m.FalsePositives)
		m.Recall = Recall(m.TruePositives, m.FalseNegatives)
		m.F1 = F1(m.Precision, m.Recall)

		r.Classes = append(r.Classes, *m)
		r.MacroPrecision += m.Precision
		r.MacroRecall += m.Recall
		r.MacroF1 += m.F1
		r.WeightedF1 += m.F1 * float64(m.Support)
	}
	k := float64(len(labels))
	r.MacroPrecision /= k
	r.MacroRecall /= k
	r.MacroF1 /= k
	r.WeightedF1 /= float64(len(truth))
	return r, nil
}

// Class returns the metrics for one label.
func (r *ClassificationReport) Class(label string) (ClassMetrics, bool) {
	for _, c := range r.Classes {
		if c.Label == label {
			return c, true
		}
	}
	return ClassMetrics{}, false
}

// Precision is tp/(tp+fp), or 0 when nothing was predicted.
func Precision(tp, fp int) float64 {
	if tp+fp == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fp)
}

// Recall is tp/(tp+fn), or 0 when the class never occurs.
func Recall(tp, fn int) float64 {
	if tp+fn == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fn)
}

// F1 is the harmonic mean of precision and recall, 0 when both are 0.
func F1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}
