package capability

import (
	"context"
	"fmt"
	"strings"

	"datapilot/engine/internal/dataset"
	"datapilot/engine/internal/llm"
)

const infoSystemPrompt = `You summarize dataset structure for a data analyst.
You are given a factual digest of a table. Write a short, clear prose
summary of its structure and data quality. Use only facts from the digest;
never invent columns, counts or values. Answer in the language of the
user's question when one is given, otherwise in the digest's language.`

// InfoCapability produces the structural report. The digest is computed
// entirely in code; the single model call only turns it into prose, so the
// model has no room to fabricate structure.
type InfoCapability struct {
	completer llm.Completer
}

func NewInfo(completer llm.Completer) *InfoCapability {
	return &InfoCapability{completer: completer}
}

func (c *InfoCapability) Name() string { return "dataframe_info" }

func (c *InfoCapability) Description() string {
	return "Describes the structure of the dataset: dimensions, column names and types, missing values and duplicate rows. Use for questions about the shape or quality of the data, not about its values."
}

func (c *InfoCapability) DirectReturn() bool { return true }

func (c *InfoCapability) Execute(ctx context.Context, input string, ds *dataset.Handle) (string, error) {
	digest := StructuralDigest(ds)
	user := "Digest:\n" + digest
	if strings.TrimSpace(input) != "" {
		user = "User question: " + input + "\n\n" + user
	}
	out, err := c.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: infoSystemPrompt},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		return "", fmt.Errorf("structural report: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// StructuralDigest renders the code-computed facts the structural report is
// grounded on. Exported so quick actions can expose the raw digest too.
func StructuralDigest(ds *dataset.Handle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "dataset: %s\n", ds.Name())
	fmt.Fprintf(&b, "rows: %d\ncolumns: %d\n", ds.RowCount(), ds.ColumnCount())
	nulls := ds.NullCounts()
	markers := ds.MarkerCounts()
	b.WriteString("column details:\n")
	for _, col := range ds.Columns() {
		fmt.Fprintf(&b, "  %s (%s) nulls=%d markers=%d\n", col.Name, col.Type, nulls[col.Name], markers[col.Name])
	}
	fmt.Fprintf(&b, "duplicate rows: %d\n", ds.DuplicateRowCount())
	b.WriteString("sample:\n")
	b.WriteString(ds.Sample())
	return b.String()
}
