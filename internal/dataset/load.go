package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// headerScanRows bounds how deep header detection looks. Real-world exports
// often carry a few title or note rows before the actual header.
const headerScanRows = 15

const (
	headerScoreAccept = 0.9
	headerScoreFloor  = 0.6
)

var ErrEmptyDataset = errors.New("dataset contains no rows")

// Load parses raw CSV bytes into a Handle. It decodes UTF-8 with a Latin-1
// fallback, sniffs the delimiter, locates the header row, and normalizes
// every data row to the header width.
func Load(name string, data []byte) (*Handle, error) {
	text := decode(data)
	delim := sniffDelimiter(text)

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	headerIdx := detectHeaderRow(records)
	names := normalizeColumnNames(records[headerIdx])
	rows := normalizeRows(records[headerIdx+1:], len(names))
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	columns := make([]Column, len(names))
	for i, colName := range names {
		values := make([]string, len(rows))
		for r, row := range rows {
			values[r] = row[i]
		}
		columns[i] = Column{Name: colName, Type: inferType(values)}
	}
	return newHandle(name, columns, rows, data), nil
}

// decode returns the byte slice as a string, reinterpreting it as Latin-1
// when it is not valid UTF-8.
func decode(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// sniffDelimiter picks between comma and semicolon by counting occurrences
// in the leading lines. Comma wins ties.
func sniffDelimiter(text string) rune {
	lines := strings.SplitN(text, "\n", 11)
	if len(lines) > 10 {
		lines = lines[:10]
	}
	commas, semis := 0, 0
	for _, line := range lines {
		commas += strings.Count(line, ",")
		semis += strings.Count(line, ";")
	}
	if semis > commas {
		return ';'
	}
	return ','
}

// detectHeaderRow scores each of the leading rows on how header-like it is:
// every cell present, all cells distinct, and cells that are labels rather
// than numbers. The first row clearing the accept threshold wins; otherwise
// the best-scoring row above the floor; otherwise row zero.
func detectHeaderRow(records [][]string) int {
	limit := headerScanRows
	if limit > len(records) {
		limit = len(records)
	}
	bestIdx, bestScore := 0, -1.0
	for i := 0; i < limit; i++ {
		score := headerScore(records[i])
		if score >= headerScoreAccept {
			return i
		}
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestScore >= headerScoreFloor {
		return bestIdx
	}
	return 0
}

func headerScore(row []string) float64 {
	if len(row) == 0 {
		return 0
	}
	nonEmpty := 0
	nonNumeric := 0
	seen := make(map[string]bool, len(row))
	distinct := 0
	for _, cell := range row {
		trimmed := strings.TrimSpace(cell)
		if trimmed == "" {
			continue
		}
		nonEmpty++
		key := strings.ToLower(trimmed)
		if !seen[key] {
			seen[key] = true
			distinct++
		}
		if _, ok := ParseNumber(trimmed); !ok {
			nonNumeric++
		}
	}
	if nonEmpty == 0 {
		return 0
	}
	fill := float64(nonEmpty) / float64(len(row))
	unique := float64(distinct) / float64(nonEmpty)
	labels := float64(nonNumeric) / float64(nonEmpty)
	return fill * unique * labels
}

// normalizeColumnNames trims names, fills in blanks, and disambiguates
// duplicates with a positional suffix.
func normalizeColumnNames(header []string) []string {
	names := make([]string, len(header))
	used := make(map[string]int, len(header))
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := used[strings.ToLower(name)]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		used[strings.ToLower(strings.TrimSpace(raw))]++
		names[i] = name
	}
	return names
}

// normalizeRows pads or truncates each record to the header width so every
// downstream consumer can index columns safely.
func normalizeRows(records [][]string, width int) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row := make([]string, width)
		for i := 0; i < width && i < len(rec); i++ {
			row[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, row)
	}
	return rows
}
