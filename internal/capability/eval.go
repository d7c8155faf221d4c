package capability

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"datapilot/engine/internal/dataset"
)

// Packages an expression is allowed to import. Everything else, in
// particular os, os/exec, net and syscall, is rejected before evaluation.
var allowedImports = map[string]bool{
	"strings": true,
	"strconv": true,
	"math":    true,
	"sort":    true,
	"fmt":     true,
}

// EvaluationError is a fault inside the submitted expression. It is always
// rendered into the observation text; it never escapes as a panic.
type EvaluationError struct {
	Stage string // "imports", "evaluate" or "timeout"
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("expression %s failed: %v", e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// EvalCapability evaluates restricted Go expressions against a private copy
// of the table inside a yaegi interpreter. Helpers are predeclared so the
// model can write one-liners like mean("price") or len(filter("city", "SP")).
type EvalCapability struct {
	timeout time.Duration
}

func NewEval(timeout time.Duration) *EvalCapability {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EvalCapability{timeout: timeout}
}

func (c *EvalCapability) Name() string { return "run_expression" }

func (c *EvalCapability) Description() string {
	return "Evaluates a Go expression against the dataset for filtering, counting and arithmetic. Helpers: rows, columns, col(name), numcol(name), count(name), sum(name), mean(name), min(name), max(name), unique(name), filter(name, value). Use for specific computed values the other capabilities do not provide."
}

func (c *EvalCapability) DirectReturn() bool { return false }

func (c *EvalCapability) Execute(ctx context.Context, input string, ds *dataset.Handle) (string, error) {
	expr := strings.TrimSpace(input)
	expr = strings.TrimPrefix(expr, "```go")
	expr = strings.TrimPrefix(expr, "```")
	expr = strings.TrimSuffix(expr, "```")
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", &EvaluationError{Stage: "evaluate", Err: fmt.Errorf("empty expression")}
	}
	if err := checkImports(expr); err != nil {
		return "", err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(allowedSymbols()); err != nil {
		return "", fmt.Errorf("load stdlib: %w", err)
	}
	if err := i.Use(datasetExports(ds)); err != nil {
		return "", fmt.Errorf("load dataset symbols: %w", err)
	}
	if _, err := i.Eval(evalPrelude); err != nil {
		return "", fmt.Errorf("load prelude: %w", err)
	}

	// EvalWithContext interrupts interpreted code at its next statement
	// boundary on cancellation, so a runaway loop stops instead of spinning
	// past the deadline.
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	value, err := i.EvalWithContext(ctx, expr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", &EvaluationError{Stage: "timeout", Err: err}
		}
		return "", &EvaluationError{Stage: "evaluate", Err: err}
	}
	return formatValue(value), nil
}

// allowedSymbols filters the yaegi stdlib symbol set down to the whitelisted
// packages. Anything else, os and net included, simply does not exist inside
// the interpreter, whatever the submitted source declares.
func allowedSymbols() interp.Exports {
	out := interp.Exports{}
	for key, symbols := range stdlib.Symbols {
		path := key
		if i := strings.LastIndex(key, "/"); i >= 0 {
			path = key[:i]
		}
		if allowedImports[path] {
			out[key] = symbols
		}
	}
	return out
}

// checkImports scans the expression source for import declarations, both
// single-line and block form, aliased or not, and rejects any path outside
// the whitelist. This is the first fence; the filtered symbol set is the
// second.
func checkImports(src string) error {
	inBlock := false
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			if err := checkImportLine(strings.TrimPrefix(trimmed, "import (")); err != nil {
				return err
			}
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			if err := checkImportLine(trimmed); err != nil {
				return err
			}
		case strings.HasPrefix(trimmed, "import"):
			if err := checkImportLine(strings.TrimPrefix(trimmed, "import")); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkImportLine validates every quoted import path on one import line.
// The alias in front of the path, including `_` and `.`, is irrelevant.
func checkImportLine(line string) error {
	for {
		start := strings.IndexAny(line, "\"`")
		if start < 0 {
			return nil
		}
		quote := line[start]
		rest := line[start+1:]
		end := strings.IndexByte(rest, quote)
		if end < 0 {
			return &EvaluationError{Stage: "imports", Err: fmt.Errorf("unterminated import path")}
		}
		if pkg := rest[:end]; !allowedImports[pkg] {
			return &EvaluationError{Stage: "imports", Err: fmt.Errorf("package %q is not allowed", pkg)}
		}
		line = rest[end+1:]
	}
}

func datasetExports(ds *dataset.Handle) interp.Exports {
	names := make([]string, 0, ds.ColumnCount())
	for _, col := range ds.Columns() {
		names = append(names, col.Name)
	}
	return interp.Exports{
		"table/table": {
			"Rows":    reflect.ValueOf(ds.CopyRows()),
			"Columns": reflect.ValueOf(names),
			"Parse":   reflect.ValueOf(dataset.ParseNumber),
		},
	}
}

// evalPrelude declares the helper vocabulary inside the interpreter. It runs
// against the exported private copy of the table, so nothing an expression
// does can touch the session's handle.
const evalPrelude = `
import (
	"sort"
	"strings"
	"table"
)

var rows = table.Rows
var columns = table.Columns

func colIndex(name string) int {
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func col(name string) []string {
	i := colIndex(name)
	if i < 0 {
		panic("unknown column: " + name)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r[i])
	}
	return out
}

func numcol(name string) []float64 {
	out := make([]float64, 0, len(rows))
	for _, v := range col(name) {
		if f, ok := table.Parse(v); ok {
			out = append(out, f)
		}
	}
	return out
}

func count(name string) int { return len(numcol(name)) }

func sum(name string) float64 {
	var total float64
	for _, v := range numcol(name) {
		total += v
	}
	return total
}

func mean(name string) float64 {
	vs := numcol(name)
	if len(vs) == 0 {
		panic("no numeric values in column: " + name)
	}
	return sum(name) / float64(len(vs))
}

func min(name string) float64 {
	vs := numcol(name)
	if len(vs) == 0 {
		panic("no numeric values in column: " + name)
	}
	m := vs[0]
	for _, v := range vs {
		if v < m {
			m = v
		}
	}
	return m
}

func max(name string) float64 {
	vs := numcol(name)
	if len(vs) == 0 {
		panic("no numeric values in column: " + name)
	}
	m := vs[0]
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}

func unique(name string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, v := range col(name) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func filter(name, value string) [][]string {
	i := colIndex(name)
	if i < 0 {
		panic("unknown column: " + name)
	}
	out := [][]string{}
	for _, r := range rows {
		if strings.EqualFold(strings.TrimSpace(r[i]), strings.TrimSpace(value)) {
			out = append(out, r)
		}
	}
	return out
}
`

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return "ok"
	}
	if v.Kind() == reflect.Float64 {
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v.Float()), "0"), ".")
	}
	return fmt.Sprintf("%v", v.Interface())
}
