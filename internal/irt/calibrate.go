package irt

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/misconcept/internal/errs"
)

// ItemParameters is the fitted 2PL model for one item.
type ItemParameters struct {
	ItemID           string  `json:"item_id"`
	Discrimination   float64 `json:"a"`
	Difficulty       float64 `json:"b"`
	SEDiscrimination float64 `json:"se_a"`
	SEDifficulty     float64 `json:"se_b"`
	Converged        bool    `json:"converged"`
	Identifiable     bool    `json:"identifiable"`
	// Floored is set when the discrimination fit went non-positive and was
	// replaced by the configured minimum.
	Floored bool `json:"floored,omitempty"`
	// Observed is the number of non-missing responses; PValue the share correct.
	Observed int     `json:"observed"`
	PValue   float64 `json:"p_value"`
}

// AbilityEstimate is the fitted ability of one student.
type AbilityEstimate struct {
	StudentID string  `json:"student_id"`
	Theta     float64 `json:"theta"`
	SE        float64 `json:"se"`
	Converged bool    `json:"converged"`
	Observed  int     `json:"observed"`
}

// Calibration is one immutable generation of item and ability estimates.
type Calibration struct {
	ID            uuid.UUID         `json:"id"`
	CreatedAt     time.Time         `json:"created_at"`
	Items         []ItemParameters  `json:"items"`
	Abilities     []AbilityEstimate `json:"abilities"`
	Iterations    int               `json:"iterations"`
	Converged     bool              `json:"converged"`
	MaxChange     float64           `json:"max_change"`
	LogLikelihood float64           `json:"log_likelihood"`
	Warnings      []errs.Warning    `json:"warnings,omitempty"`

	byItem map[string]int
}

// Item looks up the parameters of an item by ID.
func (c *Calibration) Item(id string) (ItemParameters, bool) {
	if c == nil {
		return ItemParameters{}, false
	}
	if c.byItem == nil {
		// Calibrations decoded from JSON have no index yet.
		for _, it := range c.Items {
			if it.ItemID == id {
				return it, true
			}
		}
		return ItemParameters{}, false
	}
	i, ok := c.byItem[id]
	if !ok {
		return ItemParameters{}, false
	}
	return c.Items[i], true
}

// NewCalibration wraps externally produced item parameters (for example an
// imported artifact) as a Calibration generation.
func NewCalibration(items []ItemParameters) (*Calibration, error) {
	c := &Calibration{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Items:     append([]ItemParameters(nil), items...),
		Converged: true,
	}
	if err := c.reindex(); err != nil {
		return nil, err
	}
	return c, nil
}

// RestoreCalibration rebuilds a stored calibration, keeping its identity.
func RestoreCalibration(id uuid.UUID, createdAt time.Time, items []ItemParameters) (*Calibration, error) {
	c, err := NewCalibration(items)
	if err != nil {
		return nil, err
	}
	c.ID = id
	c.CreatedAt = createdAt
	return c, nil
}

func (c *Calibration) reindex() error {
	c.byItem = make(map[string]int, len(c.Items))
	for i, it := range c.Items {
		if it.ItemID == "" {
			return errs.Invalid("item id", i, "empty identifier")
		}
		if _, dup := c.byItem[it.ItemID]; dup {
			return errs.Invalid("item id", i, "duplicate identifier %q", it.ItemID)
		}
		if it.Identifiable && !(it.Discrimination > 0) {
			return errs.Invalid("item", i, "discrimination must be positive, got %g", it.Discrimination)
		}
		c.byItem[it.ItemID] = i
	}
	return nil
}

// Calibrate fits the 2PL model to m by iterating Step from Init until the
// largest parameter change falls below cfg.Tolerance or cfg.MaxIterations is
// reached. Non-convergence and degenerate items are reported as warnings on
// a complete result; only cancellation and invalid configuration fail.
func Calibrate(ctx context.Context, m *Matrix, cfg Config) (*Calibration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if m.NumItems() == 0 || m.NumStudents() == 0 {
		return nil, errs.Invalid("response matrix", -1, "needs at least one student and one item, got %dx%d", m.NumStudents(), m.NumItems())
	}

	st := Init(m, cfg)
	converged := false
	for st.Iteration < cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("calibration cancelled after %d iterations: %w", st.Iteration, err)
		}
		st = Step(st, m, cfg)
		converged = st.MaxChange < cfg.Tolerance
		if cfg.OnIteration != nil {
			cfg.OnIteration(IterationStats{
				Iteration:     st.Iteration,
				MaxChange:     st.MaxChange,
				LogLikelihood: st.LogLikelihood,
				Converged:     converged,
			})
		}
		if converged {
			break
		}
	}
	return finalize(m, st, cfg, converged)
}

func finalize(m *Matrix, st *State, cfg Config, converged bool) (*Calibration, error) {
	c := &Calibration{
		ID:            uuid.New(),
		CreatedAt:     time.Now().UTC(),
		Items:         make([]ItemParameters, m.NumItems()),
		Abilities:     make([]AbilityEstimate, m.NumStudents()),
		Iterations:    st.Iteration,
		Converged:     converged,
		MaxChange:     st.MaxChange,
		LogLikelihood: st.LogLikelihood,
	}

	unconvergedItems := 0
	for i, id := range m.ItemIDs {
		observed, correct := m.ItemCounts(i)
		p := ItemParameters{
			ItemID:         id,
			Discrimination: st.A[i],
			Difficulty:     st.B[i],
			Identifiable:   st.kinds[i] == itemFree,
			Floored:        st.Floored[i],
			Observed:       observed,
		}
		if observed > 0 {
			p.PValue = float64(correct) / float64(observed)
		}

		if p.Identifiable {
			p.Converged = st.Iteration > 0 && st.ItemChange[i] < cfg.Tolerance
			n, r := expectedCounts(m.byItem[i], st.post)
			iaa, ibb, iab, _, _ := itemFisher(n, r, st.A[i], st.B[i])
			if det := iaa*ibb - iab*iab; det >= minDeterminant {
				p.SEDiscrimination = math.Sqrt(ibb / det)
				p.SEDifficulty = math.Sqrt(iaa / det)
			}
			if !p.Converged {
				unconvergedItems++
			}
		} else {
			c.Warnings = append(c.Warnings, errs.Warning{
				Kind:    errs.KindUnidentifiableParameter,
				Subject: "item",
				ID:      id,
				Message: degenerateReason(st.kinds[i], cfg.Bound),
			})
		}
		if p.Floored {
			c.Warnings = append(c.Warnings, errs.Warning{
				Kind:    errs.KindUnidentifiableParameter,
				Subject: "item",
				ID:      id,
				Message: fmt.Sprintf("non-positive discrimination replaced by floor %.3g", cfg.MinDiscrimination),
			})
		}
		c.Items[i] = p
	}

	for s, id := range m.StudentIDs {
		observed, _ := m.StudentCounts(s)
		est := AbilityEstimate{
			StudentID: id,
			Theta:     st.Theta[s],
			Observed:  observed,
		}
		if st.thetaActive[s] {
			est.Converged = st.Iteration > 0 && st.ThetaChange[s] < cfg.Tolerance
			est.SE = st.ThetaSE[s]
		} else {
			c.Warnings = append(c.Warnings, errs.Warning{
				Kind:    errs.KindUnidentifiableParameter,
				Subject: "student",
				ID:      id,
				Message: "no responses to identifiable items; ability left at its starting value",
			})
		}
		c.Abilities[s] = est
	}

	if !converged {
		c.Warnings = append(c.Warnings, errs.Warning{
			Kind:    errs.KindNonConvergence,
			Subject: "calibration",
			Message: fmt.Sprintf("max change %.3g still above tolerance %.3g after %d iterations (%d items unconverged)",
				st.MaxChange, cfg.Tolerance, st.Iteration, unconvergedItems),
		})
	}
	if err := c.reindex(); err != nil {
		return nil, fmt.Errorf("index calibration: %w", err)
	}
	return c, nil
}

func degenerateReason(k itemKind, bound float64) string {
	switch k {
	case itemAllCorrect:
		return fmt.Sprintf("answered correctly by every student; difficulty clamped to %.3g", -bound)
	case itemAllIncorrect:
		return fmt.Sprintf("answered incorrectly by every student; difficulty clamped to %.3g", bound)
	default:
		return "no observed responses"
	}
}
