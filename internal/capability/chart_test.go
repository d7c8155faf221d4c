package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const salesCSV = "region,units\nnorth,10\nsouth,30\nnorth,5\neast,20\n"

func TestChartCapabilityRendersAggregatedSeries(t *testing.T) {
	ds := loadTestDataset(t, salesCSV)
	completer := &scriptedCompleter{replies: []string{
		"```json\n{\"x_column\": \"region\", \"y_column\": \"units\", \"aggregation\": \"sum\", \"kind\": \"bar\", \"top_n\": 0}\n```",
	}}
	var rendered []ChartData
	chart := NewChart(completer, func(d ChartData) error {
		rendered = append(rendered, d)
		return nil
	})

	out, err := chart.Execute(context.Background(), "units per region", ds)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Len(t, rendered, 1)

	d := rendered[0]
	require.Equal(t, "bar", d.Kind)
	require.Equal(t, []string{"south", "east", "north"}, d.Labels)
	require.Equal(t, []float64{30, 20, 15}, d.Values)
}

func TestPrepareChartRejectsUnknownColumn(t *testing.T) {
	ds := loadTestDataset(t, salesCSV)
	_, err := PrepareChart(ChartSpec{XColumn: "nope", Aggregation: "count", Kind: "bar"}, ds)
	require.ErrorContains(t, err, "unknown column")
}

func TestPrepareChartCountAggregation(t *testing.T) {
	ds := loadTestDataset(t, salesCSV)
	d, err := PrepareChart(ChartSpec{XColumn: "region", Aggregation: "count", Kind: "bar"}, ds)
	require.NoError(t, err)
	require.Equal(t, []string{"north", "south", "east"}, d.Labels)
	require.Equal(t, []float64{2, 1, 1}, d.Values)
	require.Equal(t, "count", d.YLabel)
}

func TestPrepareChartTopNTruncatesAfterSort(t *testing.T) {
	ds := loadTestDataset(t, salesCSV)
	d, err := PrepareChart(ChartSpec{
		XColumn: "region", YColumn: "units", Aggregation: "sum", Kind: "bar", TopN: 2,
	}, ds)
	require.NoError(t, err)
	require.Equal(t, []string{"south", "east"}, d.Labels)
	require.Equal(t, []float64{30, 20}, d.Values)
}

func TestPrepareChartUnsupportedKindFallsBackToBar(t *testing.T) {
	ds := loadTestDataset(t, salesCSV)
	d, err := PrepareChart(ChartSpec{XColumn: "region", Aggregation: "count", Kind: "pie"}, ds)
	require.NoError(t, err)
	require.Equal(t, "bar", d.Kind)
}

func TestPrepareChartHistogram(t *testing.T) {
	ds := loadTestDataset(t, "v\n0\n1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n")
	d, err := PrepareChart(ChartSpec{XColumn: "v", Kind: "histogram"}, ds)
	require.NoError(t, err)
	require.Equal(t, "histogram", d.Kind)
	require.Len(t, d.Labels, 10)
	var total float64
	for _, c := range d.Values {
		total += c
	}
	require.Equal(t, float64(11), total)
}

func TestParseChartSpecHandlesFencesAndProse(t *testing.T) {
	spec, err := parseChartSpec("Here you go:\n```json\n{\"x_column\":\"a\",\"kind\":\"line\"}\n```\nEnjoy!")
	require.NoError(t, err)
	require.Equal(t, "a", spec.XColumn)
	require.Equal(t, "line", spec.Kind)

	_, err = parseChartSpec("no json here")
	require.Error(t, err)
}
