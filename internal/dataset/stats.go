package dataset

import (
	"math"
	"sort"
)

// ColumnSummary mirrors the classic describe() table for one numeric column.
type ColumnSummary struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

// Describe computes summary statistics for every numeric column. The result
// is computed once per handle and cached.
func (h *Handle) Describe() []ColumnSummary {
	h.describeOnce.Do(func() {
		for _, col := range h.columns {
			if col.Type != TypeNumeric {
				continue
			}
			values, _ := h.ColumnValues(col.Name)
			nums, _ := numericValues(values)
			if len(nums) == 0 {
				continue
			}
			h.describe = append(h.describe, summarize(col.Name, nums))
		}
	})
	out := make([]ColumnSummary, len(h.describe))
	copy(out, h.describe)
	return out
}

func summarize(name string, nums []float64) ColumnSummary {
	sorted := make([]float64, len(nums))
	copy(sorted, nums)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var std float64
	if len(sorted) > 1 {
		var ss float64
		for _, v := range sorted {
			d := v - mean
			ss += d * d
		}
		std = math.Sqrt(ss / float64(len(sorted)-1))
	}

	return ColumnSummary{
		Name:   name,
		Count:  len(sorted),
		Mean:   mean,
		Std:    std,
		Min:    sorted[0],
		Q1:     quantile(sorted, 0.25),
		Median: quantile(sorted, 0.5),
		Q3:     quantile(sorted, 0.75),
		Max:    sorted[len(sorted)-1],
	}
}

// quantile uses linear interpolation between closest ranks on an already
// sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// NullCounts reports per-column counts of empty cells. Marker literals like
// "NA" are counted separately by MarkerCounts.
func (h *Handle) NullCounts() map[string]int {
	return h.countCells(isEmptyCell)
}

// MarkerCounts reports per-column counts of non-empty cells holding a
// missing-marker literal ("NA", "null", "-", ...), matched
// case-insensitively.
func (h *Handle) MarkerCounts() map[string]int {
	return h.countCells(isMarker)
}

func (h *Handle) countCells(match func(string) bool) map[string]int {
	out := make(map[string]int, len(h.columns))
	for i, col := range h.columns {
		n := 0
		for _, row := range h.rows {
			if match(row[i]) {
				n++
			}
		}
		out[col.Name] = n
	}
	return out
}

// DuplicateRowCount reports how many rows are exact repeats of an earlier
// row.
func (h *Handle) DuplicateRowCount() int {
	return h.dupRowCount()
}
