package dataset

import (
	"strconv"
	"strings"
	"time"
)

// coercionThreshold is the fraction of non-empty values in a column that
// must parse as numbers for the column to be treated as numeric.
const coercionThreshold = 0.5

// missingMarkers are the literal sentinels treated as missing besides the
// empty cell. Matched case-insensitively.
var missingMarkers = map[string]bool{
	"na":       true,
	"n/a":      true,
	"null":     true,
	"none":     true,
	"nan":      true,
	"-":        true,
	"sem dado": true,
}

// isEmptyCell reports a truly empty (or whitespace-only) cell.
func isEmptyCell(value string) bool {
	return strings.TrimSpace(value) == ""
}

// isMarker reports a non-empty cell holding one of the missing-marker
// literals.
func isMarker(value string) bool {
	s := strings.ToLower(strings.TrimSpace(value))
	return s != "" && missingMarkers[s]
}

// isMissing reports whether a cell counts as missing for statistics and
// type inference. The digest keeps empty cells and marker literals apart;
// everything else treats both the same.
func isMissing(value string) bool {
	return isEmptyCell(value) || isMarker(value)
}

// ParseNumber parses a cell that may use either '.' or ',' as the decimal
// separator, with the other character acting as a thousands separator. The
// rightmost of the two is taken to be the decimal point.
func ParseNumber(value string) (float64, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, false
	}
	s = strings.TrimPrefix(s, "+")
	dot := strings.LastIndexByte(s, '.')
	comma := strings.LastIndexByte(s, ',')
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// numericValues coerces a column to floats, skipping missing cells. The
// second return is the fraction of non-missing cells that parsed.
func numericValues(values []string) ([]float64, float64) {
	var out []float64
	nonMissing := 0
	for _, v := range values {
		if isMissing(v) {
			continue
		}
		nonMissing++
		if f, ok := ParseNumber(v); ok {
			out = append(out, f)
		}
	}
	if nonMissing == 0 {
		return nil, 0
	}
	return out, float64(len(out)) / float64(nonMissing)
}

var temporalLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
}

func looksTemporal(value string) bool {
	s := strings.TrimSpace(value)
	if s == "" {
		return false
	}
	for _, layout := range temporalLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// inferType classifies a column from its raw values. Numeric wins when at
// least half of the non-missing cells coerce; temporal requires a strong
// majority since date layouts are ambiguous.
func inferType(values []string) ColumnType {
	if _, ratio := numericValues(values); ratio >= coercionThreshold {
		return TypeNumeric
	}
	nonMissing, temporal := 0, 0
	for _, v := range values {
		if isMissing(v) {
			continue
		}
		nonMissing++
		if looksTemporal(v) {
			temporal++
		}
	}
	if nonMissing > 0 && float64(temporal)/float64(nonMissing) >= 0.8 {
		return TypeTemporal
	}
	return TypeText
}
