package capability

import (
	"context"
	"fmt"
	"strings"

	"datapilot/engine/internal/dataset"
	"datapilot/engine/internal/llm"
)

// NoNumericColumnsMessage is returned verbatim when the dataset has nothing
// to summarize. No model call is made in that case.
const NoNumericColumnsMessage = "The dataset has no numeric columns, so no statistics could be computed."

const statsSystemPrompt = `You explain descriptive statistics for a data analyst.
You are given a statistics table computed from a dataset. Write a short prose
summary of the notable numbers. Use only values present in the table; never
invent numbers. Answer in the language of the user's question when one is
given, otherwise in the table's language.`

// StatsCapability produces the numeric statistics report. The describe table
// is computed in code; the model only narrates it.
type StatsCapability struct {
	completer llm.Completer
}

func NewStats(completer llm.Completer) *StatsCapability {
	return &StatsCapability{completer: completer}
}

func (c *StatsCapability) Name() string { return "statistics_summary" }

func (c *StatsCapability) Description() string {
	return "Computes descriptive statistics (count, mean, std, min, quartiles, max) for the numeric columns. Use for questions about averages, spreads, extremes or distributions."
}

func (c *StatsCapability) DirectReturn() bool { return true }

func (c *StatsCapability) Execute(ctx context.Context, input string, ds *dataset.Handle) (string, error) {
	table, notes := DescribeTable(ds)
	if table == "" {
		return NoNumericColumnsMessage, nil
	}
	user := "Statistics table:\n" + table
	if notes != "" {
		user += "\n\nNotes:\n" + notes
	}
	if strings.TrimSpace(input) != "" {
		user = "User question: " + input + "\n\n" + user
	}
	out, err := c.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: statsSystemPrompt},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		return "", fmt.Errorf("statistics report: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// DescribeTable renders the describe statistics as a markdown table plus a
// note line for numeric columns that had no usable values. An empty table
// string means no numeric column qualified.
func DescribeTable(ds *dataset.Handle) (table, notes string) {
	summaries := ds.Describe()
	summarized := make(map[string]bool, len(summaries))
	for _, s := range summaries {
		summarized[s.Name] = true
	}

	var noteLines []string
	for _, col := range ds.Columns() {
		if col.Type == dataset.TypeNumeric && !summarized[col.Name] {
			noteLines = append(noteLines, fmt.Sprintf("column %q skipped: no usable values", col.Name))
		}
	}
	notes = strings.Join(noteLines, "\n")
	if len(summaries) == 0 {
		return "", notes
	}

	var b strings.Builder
	b.WriteString("| column | count | mean | std | min | q1 | median | q3 | max |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|---|\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "| %s | %d | %s | %s | %s | %s | %s | %s | %s |\n",
			s.Name, s.Count,
			formatStat(s.Mean), formatStat(s.Std), formatStat(s.Min),
			formatStat(s.Q1), formatStat(s.Median), formatStat(s.Q3), formatStat(s.Max))
	}
	return strings.TrimRight(b.String(), "\n"), notes
}

func formatStat(v float64) string {
	s := fmt.Sprintf("%.4f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
