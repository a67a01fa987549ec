// Package errs holds the error and warning taxonomy shared by the
// clustering, classification and calibration engines.
//
// Shape violations are returned as errors before any computation starts.
// Numerical trouble (non-convergence, unidentifiable parameters) and the
// empty-taxonomy cold start are not errors: they travel as Warning values
// alongside a best-effort result.
package errs

import "fmt"

// InputShapeError reports malformed input: mismatched embedding
// dimensionality, ragged response rows, duplicate identifiers.
type InputShapeError struct {
	What     string // e.g. "embedding", "response matrix row"
	Index    int    // offending position, -1 when not applicable
	Expected int
	Got      int
	Detail   string
}

func (e *InputShapeError) Error() string {
	switch {
	case e.Detail != "" && e.Index >= 0:
		return fmt.Sprintf("input shape: %s %d: %s", e.What, e.Index, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("input shape: %s: %s", e.What, e.Detail)
	case e.Index >= 0:
		return fmt.Sprintf("input shape: %s %d has length %d, want %d", e.What, e.Index, e.Got, e.Expected)
	default:
		return fmt.Sprintf("input shape: %s has length %d, want %d", e.What, e.Got, e.Expected)
	}
}

// DimensionMismatch builds an InputShapeError for a vector whose length
// differs from the expected dimensionality.
func DimensionMismatch(what string, index, expected, got int) *InputShapeError {
	return &InputShapeError{What: what, Index: index, Expected: expected, Got: got}
}

// Invalid builds an InputShapeError carrying a free-form detail.
func Invalid(what string, index int, format string, args ...any) *InputShapeError {
	return &InputShapeError{What: what, Index: index, Detail: fmt.Sprintf(format, args...)}
}

// WarningKind enumerates the non-fatal conditions a run can report.
type WarningKind string

const (
	KindNonConvergence          WarningKind = "non-convergence"
	KindUnidentifiableParameter WarningKind = "unidentifiable-parameter"
	KindColdStart               WarningKind = "cold-start"
)

// Warning is a non-fatal diagnostic attached to a result.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Subject string      `json:"subject"` // "item", "student", "clustering", "taxonomy"
	ID      string      `json:"id,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.ID != "" {
		return fmt.Sprintf("%s: %s %s: %s", w.Kind, w.Subject, w.ID, w.Message)
	}
	return fmt.Sprintf("%s: %s: %s", w.Kind, w.Subject, w.Message)
}

// CountKind returns how many warnings have the given kind.
func CountKind(ws []Warning, kind WarningKind) int {
	n := 0
	for _, w := range ws {
		if w.Kind == kind {
			n++
		}
	}
	return n
}
