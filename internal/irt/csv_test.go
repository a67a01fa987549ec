package irt

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/misconcept/internal/errs"
)

func TestParseCSV_Wide(t *testing.T) {
	in := `student_id,q1,q2,q3
alice,1,0,NA
bob,true,,incorrect
# comment lines are skipped
carol,0,1,1
`
	m, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob", "carol"}, m.StudentIDs)
	assert.Equal(t, []string{"q1", "q2", "q3"}, m.ItemIDs)
	assert.Equal(t, []Cell{Correct, Incorrect, Missing}, m.Cells[0])
	assert.Equal(t, []Cell{Correct, Missing, Incorrect}, m.Cells[1])

	observed, correct := m.ItemCounts(2)
	assert.Equal(t, 2, observed)
	assert.Equal(t, 1, correct)
}

func TestParseCSV_Long(t *testing.T) {
	in := `student_id,item_id,correct
s1,i1,1
s1,i2,0
s2,i2,1
`
	m, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, m.StudentIDs)
	assert.Equal(t, []string{"i1", "i2"}, m.ItemIDs)
	assert.Equal(t, Missing, m.At(1, 0), "unlisted pair is missing")
	assert.Equal(t, Correct, m.At(1, 1))
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"ragged row", "sid,a,b\nx,1\n"},
		{"bad value", "sid,a\nx,maybe\n"},
		{"duplicate student", "sid,a\nx,1\nx,0\n"},
		{"duplicate item", "sid,a,a\nx,1,0\n"},
		{"duplicate long pair", "student_id,item_id,correct\ns,i,1\ns,i,0\n"},
		{"no items", "sid\nx\n"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.in))
			var shape *errs.InputShapeError
			if !errors.As(err, &shape) {
				t.Fatalf("want *errs.InputShapeError, got %v", err)
			}
		})
	}
}

func TestWriteCSV_ReadBack(t *testing.T) {
	m, _, err := Simulate(SimulateConfig{Students: 5, Items: 3, Seed: 9, MinA: 1, MaxA: 1, MinB: 0, MaxB: 0, MissingRate: 0.3})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, m))
	back, err := ParseCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Cells, back.Cells)
	assert.Equal(t, m.ItemIDs, back.ItemIDs)
}
