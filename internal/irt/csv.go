package irt

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/abhisek/misconcept/internal/errs"
)

// ParseCSV reads a correctness matrix in one of two layouts.
//
// Long: a header of exactly student_id,item_id,correct followed by one row
// per observation. Pairs that never appear are Missing.
//
// Wide: the first header cell names the student column and the remaining
// header cells are item IDs; each following row is one student.
//
// Cells accept 1/0, true/false and correct/incorrect. Blank, NA and NaN are
// Missing. Ragged rows and duplicate IDs are *errs.InputShapeError.
func ParseCSV(r io.Reader) (*Matrix, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errs.Invalid("csv", -1, "empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	if isLongHeader(header) {
		return parseLong(cr)
	}
	return parseWide(cr, header)
}

func isLongHeader(h []string) bool {
	if len(h) != 3 {
		return false
	}
	return strings.EqualFold(h[0], "student_id") &&
		strings.EqualFold(h[1], "item_id") &&
		(strings.EqualFold(h[2], "correct") || strings.EqualFold(h[2], "response"))
}

func parseWide(cr *csv.Reader, header []string) (*Matrix, error) {
	if len(header) < 2 {
		return nil, errs.Invalid("csv header", -1, "need a student column and at least one item column")
	}
	items := header[1:]

	var (
		students []string
		rows     [][]Cell
	)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", line, err)
		}
		if len(rec) != len(header) {
			return nil, errs.DimensionMismatch("csv row", line, len(header), len(rec))
		}

		row := make([]Cell, len(items))
		for i, raw := range rec[1:] {
			c, err := parseCell(raw)
			if err != nil {
				return nil, errs.Invalid("csv row", line, "item %q: %v", items[i], err)
			}
			row[i] = c
		}
		students = append(students, strings.TrimSpace(rec[0]))
		rows = append(rows, row)
	}
	return NewMatrix(students, items, rows)
}

func parseLong(cr *csv.Reader) (*Matrix, error) {
	type key struct{ s, i string }
	var (
		students, items []string
		seenS           = map[string]bool{}
		seenI           = map[string]bool{}
		cells           = map[key]Cell{}
	)

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", line, err)
		}
		if len(rec) != 3 {
			return nil, errs.DimensionMismatch("csv row", line, 3, len(rec))
		}

		s, i := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		c, err := parseCell(rec[2])
		if err != nil {
			return nil, errs.Invalid("csv row", line, "%v", err)
		}
		k := key{s, i}
		if _, dup := cells[k]; dup {
			return nil, errs.Invalid("csv row", line, "duplicate response for student %q item %q", s, i)
		}
		cells[k] = c
		if !seenS[s] {
			seenS[s] = true
			students = append(students, s)
		}
		if !seenI[i] {
			seenI[i] = true
			items = append(items, i)
		}
	}

	rows := make([][]Cell, len(students))
	for si, s := range students {
		rows[si] = make([]Cell, len(items))
		for ii, i := range items {
			c, ok := cells[key{s, i}]
			if !ok {
				c = Missing
			}
			rows[si][ii] = c
		}
	}
	return NewMatrix(students, items, rows)
}

func parseCell(raw string) (Cell, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "1.0", "true", "correct", "t", "y", "yes":
		return Correct, nil
	case "0", "0.0", "false", "incorrect", "f", "n", "no":
		return Incorrect, nil
	case "", "na", "nan", "null", "-":
		return Missing, nil
	default:
		return Missing, fmt.Errorf("unrecognised cell value %q", raw)
	}
}

// WriteCSV writes m in the wide layout accepted by ParseCSV.
func WriteCSV(w io.Writer, m *Matrix) error {
	cw := csv.NewWriter(w)
	header := append([]string{"student_id"}, m.ItemIDs...)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for s, id := range m.StudentIDs {
		rec[0] = id
		for i, c := range m.Cells[s] {
			if c == Missing {
				rec[i+1] = ""
			} else {
				rec[i+1] = c.String()
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
