package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"datapilot/engine/internal/dataset"
	"datapilot/engine/internal/llm"
)

const chartSystemPrompt = `You translate chart requests into a JSON spec.
Given the dataset columns and the user's request, reply with ONLY a JSON
object of this exact shape, no prose:
{"x_column": "<column>", "y_column": "<column or null>",
 "aggregation": "sum|mean|count|none", "kind": "bar|line|scatter|histogram",
 "top_n": <integer or 0>}
Use only column names from the provided list.`

const defaultTopN = 20

const histogramBins = 10

// ChartSpec is the model-emitted chart description. Everything in it is
// validated and recomputed in code before anything is rendered.
type ChartSpec struct {
	XColumn     string `json:"x_column"`
	YColumn     string `json:"y_column"`
	Aggregation string `json:"aggregation"`
	Kind        string `json:"kind"`
	TopN        int    `json:"top_n"`
}

// ChartData is the prepared series handed to the renderer. The capability
// never draws; rendering is the caller's side effect.
type ChartData struct {
	Kind   string    `json:"kind"`
	Title  string    `json:"title"`
	XLabel string    `json:"x_label"`
	YLabel string    `json:"y_label"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// Renderer receives the prepared chart series.
type Renderer func(ChartData) error

type ChartCapability struct {
	completer llm.Completer
	render    Renderer
}

func NewChart(completer llm.Completer, render Renderer) *ChartCapability {
	return &ChartCapability{completer: completer, render: render}
}

func (c *ChartCapability) Name() string { return "render_chart" }

func (c *ChartCapability) Description() string {
	return "Renders a chart (bar, line, scatter or histogram) from the dataset. Use when the user asks for a plot, graph or visualization."
}

func (c *ChartCapability) DirectReturn() bool { return true }

func (c *ChartCapability) Execute(ctx context.Context, input string, ds *dataset.Handle) (string, error) {
	spec, err := c.requestSpec(ctx, input, ds)
	if err != nil {
		return "", err
	}
	data, err := PrepareChart(*spec, ds)
	if err != nil {
		return "", err
	}
	if err := c.render(*data); err != nil {
		return "", fmt.Errorf("render chart: %w", err)
	}
	return "", nil
}

func (c *ChartCapability) requestSpec(ctx context.Context, input string, ds *dataset.Handle) (*ChartSpec, error) {
	names := make([]string, 0, ds.ColumnCount())
	for _, col := range ds.Columns() {
		names = append(names, fmt.Sprintf("%s (%s)", col.Name, col.Type))
	}
	user := fmt.Sprintf("Columns:\n%s\n\nRequest: %s", strings.Join(names, "\n"), input)
	out, err := c.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: chartSystemPrompt},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		return nil, fmt.Errorf("chart spec: %w", err)
	}
	spec, err := parseChartSpec(out)
	if err != nil {
		return nil, fmt.Errorf("chart spec: %w", err)
	}
	return spec, nil
}

// parseChartSpec extracts the JSON object from a model reply that may wrap
// it in a code fence or surrounding prose.
func parseChartSpec(text string) (*ChartSpec, error) {
	s := strings.TrimSpace(text)
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	var spec ChartSpec
	if err := json.Unmarshal([]byte(s), &spec); err != nil {
		return nil, fmt.Errorf("parse spec json: %w", err)
	}
	return &spec, nil
}

// PrepareChart validates the chart spec against the dataset and computes the
// series in code. Exported so the engine's direct chart operation can share
// the same path as the routed capability.
func PrepareChart(spec ChartSpec, ds *dataset.Handle) (*ChartData, error) {
	if !ds.HasColumn(spec.XColumn) {
		return nil, fmt.Errorf("unknown column %q", spec.XColumn)
	}
	if spec.YColumn != "" && !ds.HasColumn(spec.YColumn) {
		return nil, fmt.Errorf("unknown column %q", spec.YColumn)
	}
	kind := spec.Kind
	switch kind {
	case "bar", "line", "scatter", "histogram":
	default:
		kind = "bar"
	}
	topN := spec.TopN
	if topN <= 0 {
		topN = defaultTopN
	}

	if kind == "histogram" {
		return histogram(spec.XColumn, ds)
	}

	var labels []string
	var values []float64
	switch spec.Aggregation {
	case "count":
		labels, values = aggregate(spec.XColumn, "", ds, func(vs []float64, n int) float64 {
			return float64(n)
		})
	case "sum":
		if spec.YColumn == "" {
			return nil, fmt.Errorf("aggregation %q needs a y column", spec.Aggregation)
		}
		labels, values = aggregate(spec.XColumn, spec.YColumn, ds, func(vs []float64, n int) float64 {
			var total float64
			for _, v := range vs {
				total += v
			}
			return total
		})
	case "mean":
		if spec.YColumn == "" {
			return nil, fmt.Errorf("aggregation %q needs a y column", spec.Aggregation)
		}
		labels, values = aggregate(spec.XColumn, spec.YColumn, ds, func(vs []float64, n int) float64 {
			if len(vs) == 0 {
				return math.NaN()
			}
			var total float64
			for _, v := range vs {
				total += v
			}
			return total / float64(len(vs))
		})
	case "none", "":
		labels, values = rawSeries(spec.XColumn, spec.YColumn, ds)
	default:
		return nil, fmt.Errorf("unknown aggregation %q", spec.Aggregation)
	}

	if spec.Aggregation != "none" && spec.Aggregation != "" {
		sortDescending(labels, values)
	}
	if len(labels) > topN {
		labels = labels[:topN]
		values = values[:topN]
	}

	return &ChartData{
		Kind:   kind,
		Title:  chartTitle(spec),
		XLabel: spec.XColumn,
		YLabel: yAxisLabel(spec),
		Labels: labels,
		Values: values,
	}, nil
}

type aggregateFn func(values []float64, rowCount int) float64

func aggregate(xCol, yCol string, ds *dataset.Handle, fn aggregateFn) ([]string, []float64) {
	xs, _ := ds.ColumnValues(xCol)
	var ys []string
	if yCol != "" {
		ys, _ = ds.ColumnValues(yCol)
	}

	groups := make(map[string][]float64)
	counts := make(map[string]int)
	var order []string
	for i, x := range xs {
		key := strings.TrimSpace(x)
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
		if ys != nil {
			if f, ok := dataset.ParseNumber(ys[i]); ok {
				groups[key] = append(groups[key], f)
			}
		}
	}

	labels := make([]string, 0, len(order))
	values := make([]float64, 0, len(order))
	for _, key := range order {
		v := fn(groups[key], counts[key])
		if math.IsNaN(v) {
			continue
		}
		labels = append(labels, key)
		values = append(values, v)
	}
	return labels, values
}

func rawSeries(xCol, yCol string, ds *dataset.Handle) ([]string, []float64) {
	xs, _ := ds.ColumnValues(xCol)
	if yCol == "" {
		// No y column: plot the x column itself as a numeric series.
		var labels []string
		var values []float64
		for i, x := range xs {
			if f, ok := dataset.ParseNumber(x); ok {
				labels = append(labels, fmt.Sprintf("%d", i))
				values = append(values, f)
			}
		}
		return labels, values
	}
	ys, _ := ds.ColumnValues(yCol)
	var labels []string
	var values []float64
	for i, x := range xs {
		if f, ok := dataset.ParseNumber(ys[i]); ok {
			labels = append(labels, strings.TrimSpace(x))
			values = append(values, f)
		}
	}
	return labels, values
}

func histogram(col string, ds *dataset.Handle) (*ChartData, error) {
	values, ok := ds.ColumnValues(col)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", col)
	}
	var nums []float64
	for _, v := range values {
		if f, ok := dataset.ParseNumber(v); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values to bin", col)
	}
	lo, hi := nums[0], nums[0]
	for _, v := range nums {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	bins := histogramBins
	if hi == lo {
		bins = 1
	}
	width := (hi - lo) / float64(bins)
	labels := make([]string, bins)
	counts := make([]float64, bins)
	for i := 0; i < bins; i++ {
		labels[i] = fmt.Sprintf("%s–%s", formatStat(lo+float64(i)*width), formatStat(lo+float64(i+1)*width))
	}
	for _, v := range nums {
		idx := bins - 1
		if width > 0 {
			idx = int((v - lo) / width)
			if idx >= bins {
				idx = bins - 1
			}
		}
		counts[idx]++
	}
	return &ChartData{
		Kind:   "histogram",
		Title:  fmt.Sprintf("distribution of %s", col),
		XLabel: col,
		YLabel: "count",
		Labels: labels,
		Values: counts,
	}, nil
}

func sortDescending(labels []string, values []float64) {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] > values[idx[b]] })
	sortedLabels := make([]string, len(labels))
	sortedValues := make([]float64, len(values))
	for i, j := range idx {
		sortedLabels[i] = labels[j]
		sortedValues[i] = values[j]
	}
	copy(labels, sortedLabels)
	copy(values, sortedValues)
}

func chartTitle(spec ChartSpec) string {
	switch spec.Aggregation {
	case "count":
		return fmt.Sprintf("count by %s", spec.XColumn)
	case "sum", "mean":
		return fmt.Sprintf("%s of %s by %s", spec.Aggregation, spec.YColumn, spec.XColumn)
	default:
		if spec.YColumn != "" {
			return fmt.Sprintf("%s by %s", spec.YColumn, spec.XColumn)
		}
		return spec.XColumn
	}
}

func yAxisLabel(spec ChartSpec) string {
	if spec.Aggregation == "count" {
		return "count"
	}
	if spec.YColumn != "" {
		return spec.YColumn
	}
	return "value"
}
