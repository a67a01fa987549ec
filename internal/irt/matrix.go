// Package irt calibrates two-parameter logistic (2PL) item response models.
//
// Calibration is marginal maximum likelihood by EM (Bock-Aitkin) expressed
// as a fold: Init builds the starting State from a response Matrix and Step
// maps one State to the next. Within a step the per-item and per-student
// updates are independent and run in parallel, with a barrier between the
// two sub-steps.
package irt

import (
	"strings"
	"sync"

	"github.com/abhisek/misconcept/internal/errs"
)

// Cell is one observation in a response matrix.
type Cell int8

const (
	Incorrect Cell = 0
	Correct   Cell = 1
	Missing   Cell = -1
)

func (c Cell) String() string {
	switch c {
	case Correct:
		return "1"
	case Incorrect:
		return "0"
	default:
		return "NA"
	}
}

// Matrix holds binary correctness for students (rows) by items (columns).
// Missing cells are explicit and never imputed. Build it with NewMatrix and
// treat it as read-only afterwards.
type Matrix struct {
	StudentIDs []string
	ItemIDs    []string
	Cells      [][]Cell

	once      sync.Once
	byStudent [][]obs // observed (item, x) per student
	byItem    [][]obs // observed (student, x) per item
}

type obs struct {
	idx int
	x   float64
}

// NewMatrix validates and copies a response matrix. IDs must be non-empty
// and unique, every row must have one cell per item, and every cell must be
// Correct, Incorrect or Missing.
func NewMatrix(studentIDs, itemIDs []string, rows [][]Cell) (*Matrix, error) {
	if err := uniqueIDs("student id", studentIDs); err != nil {
		return nil, err
	}
	if err := uniqueIDs("item id", itemIDs); err != nil {
		return nil, err
	}
	if len(rows) != len(studentIDs) {
		return nil, errs.DimensionMismatch("response matrix rows", -1, len(studentIDs), len(rows))
	}

	m := &Matrix{
		StudentIDs: append([]string(nil), studentIDs...),
		ItemIDs:    append([]string(nil), itemIDs...),
		Cells:      make([][]Cell, len(rows)),
	}
	for s, row := range rows {
		if len(row) != len(itemIDs) {
			return nil, errs.DimensionMismatch("response matrix row", s, len(itemIDs), len(row))
		}
		for i, c := range row {
			if c != Correct && c != Incorrect && c != Missing {
				return nil, errs.Invalid("response matrix row", s, "cell %d has value %d, want 0, 1 or missing", i, c)
			}
		}
		m.Cells[s] = append([]Cell(nil), row...)
	}
	m.index()
	return m, nil
}

func uniqueIDs(what string, ids []string) error {
	seen := make(map[string]int, len(ids))
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return errs.Invalid(what, i, "empty identifier")
		}
		if prev, dup := seen[id]; dup {
			return errs.Invalid(what, i, "duplicate identifier %q (first at %d)", id, prev)
		}
		seen[id] = i
	}
	return nil
}

// NumStudents returns the number of rows.
func (m *Matrix) NumStudents() int { return len(m.StudentIDs) }

// NumItems returns the number of columns.
func (m *Matrix) NumItems() int { return len(m.ItemIDs) }

// At returns the cell for student s and item i.
func (m *Matrix) At(s, i int) Cell { return m.Cells[s][i] }

// ItemCounts returns how many students answered item i and how many of them
// answered correctly.
func (m *Matrix) ItemCounts(i int) (observed, correct int) {
	m.index()
	for _, o := range m.byItem[i] {
		observed++
		if o.x == 1 {
			correct++
		}
	}
	return observed, correct
}

// StudentCounts is ItemCounts for a row.
func (m *Matrix) StudentCounts(s int) (observed, correct int) {
	m.index()
	for _, o := range m.byStudent[s] {
		observed++
		if o.x == 1 {
			correct++
		}
	}
	return observed, correct
}

// MissingRate is the share of cells marked Missing.
func (m *Matrix) MissingRate() float64 {
	total := m.NumStudents() * m.NumItems()
	if total == 0 {
		return 0
	}
	missing := 0
	for _, row := range m.Cells {
		for _, c := range row {
			if c == Missing {
				missing++
			}
		}
	}
	return float64(missing) / float64(total)
}

func (m *Matrix) index() {
	m.once.Do(func() {
		m.byStudent = make([][]obs, len(m.StudentIDs))
		m.byItem = make([][]obs, len(m.ItemIDs))
		for s, row := range m.Cells {
			for i, c := range row {
				if c == Missing {
					continue
				}
				x := float64(c)
				m.byStudent[s] = append(m.byStudent[s], obs{idx: i, x: x})
				m.byItem[i] = append(m.byItem[i], obs{idx: s, x: x})
			}
		}
	})
}
