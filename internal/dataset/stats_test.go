package dataset

import (
	"math"
	"strings"
	"testing"
)

func mustLoad(t *testing.T, csv string) *Handle {
	t.Helper()
	h, err := Load("test.csv", []byte(csv))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return h
}

func TestDescribe(t *testing.T) {
	h := mustLoad(t, "label,value\na,1\nb,2\nc,3\nd,4\ne,5\n")
	summaries := h.Describe()
	if len(summaries) != 1 {
		t.Fatalf("expected one numeric summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.Name != "value" || s.Count != 5 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.Mean != 3 || s.Median != 3 || s.Min != 1 || s.Max != 5 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.Q1 != 2 || s.Q3 != 4 {
		t.Fatalf("unexpected quartiles: %+v", s)
	}
	if math.Abs(s.Std-math.Sqrt(2.5)) > 1e-9 {
		t.Fatalf("unexpected std: %v", s.Std)
	}
}

func TestDescribeSkipsMissing(t *testing.T) {
	h := mustLoad(t, "v,w\n1,x\nNA,y\n3,z\n")
	summaries := h.Describe()
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(summaries))
	}
	if summaries[0].Count != 2 || summaries[0].Mean != 2 {
		t.Fatalf("missing markers should be excluded: %+v", summaries[0])
	}
}

func TestNullCountsAndDuplicates(t *testing.T) {
	h := mustLoad(t, "a,b\n1,x\n,x\nn/a,y\n1,x\n")
	nulls := h.NullCounts()
	if nulls["a"] != 1 {
		t.Fatalf("expected 1 empty cell in a, got %d", nulls["a"])
	}
	if nulls["b"] != 0 {
		t.Fatalf("expected 0 empty cells in b, got %d", nulls["b"])
	}
	if h.DuplicateRowCount() != 1 {
		t.Fatalf("expected 1 duplicate row, got %d", h.DuplicateRowCount())
	}
}

func TestMarkerCountsAreSeparateFromNulls(t *testing.T) {
	h := mustLoad(t, "a,b\n1,x\n,x\nNA,y\n2,z\n")
	nulls := h.NullCounts()
	markers := h.MarkerCounts()
	if nulls["a"] != 1 || markers["a"] != 1 {
		t.Fatalf("column a: nulls=%d markers=%d, want 1 and 1", nulls["a"], markers["a"])
	}
	if nulls["b"] != 0 || markers["b"] != 0 {
		t.Fatalf("column b: nulls=%d markers=%d, want 0 and 0", nulls["b"], markers["b"])
	}
}

func TestSchemaDiff(t *testing.T) {
	old := mustLoad(t, "a,b\n1,x\n")
	replacement := mustLoad(t, "a,c\n1,x\n2,y\n")
	diff := SchemaDiff(old, replacement)
	if !strings.Contains(diff, "- b\ttext") {
		t.Fatalf("diff should show removed column:\n%s", diff)
	}
	if !strings.Contains(diff, "+ c\ttext") {
		t.Fatalf("diff should show added column:\n%s", diff)
	}
}
