package difficulty

import (
	"math"
	"regexp"
	"strings"

	"github.com/abhisek/misconcept/internal/irt"
)

// Normalize maps an IRT difficulty b onto [0,1] with the logistic function.
func Normalize(b float64) float64 {
	return 1 / (1 + math.Exp(-b))
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

// proofVerbs mark questions that ask for a construction or proof.
var proofVerbs = []string{"prove", "derive", "construct", "show that"}

// LexicalProxy estimates normalised difficulty from the question text alone,
// for items with no calibration. It weights length (capped at 40 tokens),
// token repetition and the presence of proof verbs.
func LexicalProxy(question string) float64 {
	tokens := strings.Fields(strings.ToLower(nonAlnum.ReplaceAllString(question, " ")))
	n := len(tokens)

	// A question with no tokens counts as fully repetitive.
	repetition := 1.0
	if n > 0 {
		uniq := make(map[string]struct{}, n)
		for _, t := range tokens {
			uniq[t] = struct{}{}
		}
		repetition = math.Max(0, 1-float64(len(uniq))/float64(n))
	}

	var proof float64
	lower := strings.ToLower(question)
	for _, v := range proofVerbs {
		if strings.Contains(lower, v) {
			proof = 1
			break
		}
	}

	val := 0.25*(math.Min(float64(n), 40)/40) + 0.35*repetition + 0.4*proof
	return math.Max(0, math.Min(1, val))
}

// Estimate is the difficulty reported for one question.
type Estimate struct {
	ItemID         string  `json:"item_id,omitempty"`
	HasIRT         bool    `json:"has_irt"`
	A              float64 `json:"a,omitempty"`
	B              float64 `json:"b,omitempty"`
	DifficultyNorm float64 `json:"difficulty_norm"`
	Bucket         Bucket  `json:"bucket"`
}

// Estimator prefers calibrated parameters and falls back to LexicalProxy.
type Estimator struct {
	bucketizer *Bucketizer
}

// NewEstimator returns an estimator using b, or DefaultBucketizer if nil.
func NewEstimator(b *Bucketizer) *Estimator {
	if b == nil {
		b = DefaultBucketizer()
	}
	return &Estimator{bucketizer: b}
}

// Bucketizer returns the estimator's bucketizer.
func (e *Estimator) Bucketizer() *Bucketizer { return e.bucketizer }

// Estimate looks itemID up in cal (which may be nil) and otherwise scores
// the question text. Unidentifiable items still use their boundary b.
func (e *Estimator) Estimate(cal *irt.Calibration, question, itemID string) Estimate {
	if itemID != "" {
		if p, ok := cal.Item(itemID); ok {
			norm := round3(Normalize(p.Difficulty))
			return Estimate{
				ItemID:         itemID,
				HasIRT:         true,
				A:              p.Discrimination,
				B:              p.Difficulty,
				DifficultyNorm: norm,
				Bucket:         e.bucketizer.Bucketize(norm),
			}
		}
	}

	norm := round3(LexicalProxy(question))
	return Estimate{
		ItemID:         itemID,
		DifficultyNorm: norm,
		Bucket:         e.bucketizer.Bucketize(norm),
	}
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
