package dataset

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// SchemaDiff renders a line-oriented diff between the schema digests of two
// handles. It is surfaced when a session replaces its dataset so the caller
// can show what changed between the old and new tables.
func SchemaDiff(old, new *Handle) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(old.SchemaDigest(), new.SchemaDigest())
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.Split(strings.TrimRight(d.Text, "\n"), "\n") {
			sb.WriteString(prefix + line + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
