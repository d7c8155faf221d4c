package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

type ColumnType string

const (
	TypeNumeric  ColumnType = "numeric"
	TypeText     ColumnType = "text"
	TypeTemporal ColumnType = "temporal"
)

const (
	sampleMaxRows = 5
	sampleMaxCols = 10
)

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Handle is the immutable in-memory dataset plus derived metadata. It is
// created once per successful load and shared read-only across capability
// invocations; accessors hand out copies so callers cannot mutate it.
type Handle struct {
	name        string
	columns     []Column
	rows        [][]string
	fingerprint string

	describeOnce sync.Once
	describe     []ColumnSummary
}

func newHandle(name string, columns []Column, rows [][]string, raw []byte) *Handle {
	sum := sha256.Sum256(raw)
	return &Handle{
		name:        name,
		columns:     columns,
		rows:        rows,
		fingerprint: hex.EncodeToString(sum[:]),
	}
}

func (h *Handle) Name() string { return h.name }

func (h *Handle) RowCount() int { return len(h.rows) }

func (h *Handle) ColumnCount() int { return len(h.columns) }

// Fingerprint identifies the loaded bytes; loading identical bytes yields an
// identical fingerprint.
func (h *Handle) Fingerprint() string { return h.fingerprint }

func (h *Handle) Columns() []Column {
	out := make([]Column, len(h.columns))
	copy(out, h.columns)
	return out
}

func (h *Handle) HasColumn(name string) bool {
	return h.columnIndex(name) >= 0
}

func (h *Handle) columnIndex(name string) int {
	for i, col := range h.columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// ColumnValues returns a copy of the raw string values of a column.
func (h *Handle) ColumnValues(name string) ([]string, bool) {
	idx := h.columnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(h.rows))
	for i, row := range h.rows {
		out[i] = row[idx]
	}
	return out, true
}

// CopyRows returns a deep copy of the table for evaluation contexts that
// need a private, mutable view.
func (h *Handle) CopyRows() [][]string {
	out := make([][]string, len(h.rows))
	for i, row := range h.rows {
		cells := make([]string, len(row))
		copy(cells, row)
		out[i] = cells
	}
	return out
}

// Sample renders the first rows and columns as a markdown table for prompt
// context. The caps keep the model context bounded regardless of dataset
// size.
func (h *Handle) Sample() string {
	cols := h.columns
	if len(cols) > sampleMaxCols {
		cols = cols[:sampleMaxCols]
	}
	rowLimit := sampleMaxRows
	if rowLimit > len(h.rows) {
		rowLimit = len(h.rows)
	}

	var b strings.Builder
	b.WriteString("|")
	for _, col := range cols {
		b.WriteString(" " + col.Name + " |")
	}
	b.WriteString("\n|")
	for range cols {
		b.WriteString("---|")
	}
	b.WriteString("\n")
	for _, row := range h.rows[:rowLimit] {
		b.WriteString("|")
		for i := range cols {
			b.WriteString(" " + row[i] + " |")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// SchemaDigest is a stable textual summary of the dataset shape, used both
// in prompts and to diff an old dataset against its replacement.
func (h *Handle) SchemaDigest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rows: %d\ncolumns: %d\n", len(h.rows), len(h.columns))
	for _, col := range h.columns {
		fmt.Fprintf(&b, "%s\t%s\n", col.Name, col.Type)
	}
	return b.String()
}

func (h *Handle) dupRowCount() int {
	seen := make(map[string]bool, len(h.rows))
	dups := 0
	for _, row := range h.rows {
		key := strings.Join(row, "\x1f")
		if seen[key] {
			dups++
			continue
		}
		seen[key] = true
	}
	return dups
}
