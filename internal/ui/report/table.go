// Package report renders the CLI's tabular output and progress bars.
package report

import (
	"fmt"
	"io"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/misconcept/internal/ui/theme"
)

const columnGap = "  "

// Table is a simple column-aligned table with a styled header.
type Table struct {
	title   string
	headers []string
	rows    [][]string
	right   map[int]bool
}

// NewTable creates a table. title may be empty.
func NewTable(title string, headers ...string) *Table {
	return &Table{title: title, headers: headers, right: map[int]bool{}}
}

// AlignRight right-aligns the given columns, typically the numeric ones.
func (t *Table) AlignRight(cols ...int) *Table {
	for _, c := range cols {
		t.right[c] = true
	}
	return t
}

// Row appends a row. Floats are printed with three decimals.
func (t *Table) Row(cells ...any) *Table {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = formatCell(c)
	}
	t.rows = append(t.rows, row)
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render returns the table as a string ending in a newline.
func (t *Table) Render() string {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	total := 0
	for _, w := range widths {
		total += w
	}
	total += len(columnGap) * max(0, len(widths)-1)

	var b strings.Builder
	if t.title != "" {
		b.WriteString(theme.Title.Render(t.title))
		b.WriteByte('\n')
	}
	rule := theme.Rule.Render(strings.Repeat("─", total))

	header := make([]string, len(t.headers))
	for i, h := range t.headers {
		header[i] = theme.Header.Render(t.pad(i, h, widths[i]))
	}
	b.WriteString(strings.Join(header, columnGap))
	b.WriteByte('\n')
	b.WriteString(rule)
	b.WriteByte('\n')

	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = t.pad(i, cell, widths[i])
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, columnGap), " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// Print writes the rendered table to w.
func (t *Table) Print(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) pad(col int, s string, width int) string {
	gap := width - lipgloss.Width(s)
	if gap <= 0 {
		return s
	}
	if t.right[col] {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}

func formatCell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.3f", x)
	case float32:
		return fmt.Sprintf("%.3f", x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// KeyValues prints aligned "key: value" lines.
func KeyValues(w io.Writer, pairs ...string) {
	width := 0
	for i := 0; i < len(pairs); i += 2 {
		width = max(width, lipgloss.Width(pairs[i]))
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		key := pairs[i] + ":" + strings.Repeat(" ", width-lipgloss.Width(pairs[i]))
		fmt.Fprintf(w, "%s  %s\n", theme.Neutral.Render(key), pairs[i+1])
	}
}
