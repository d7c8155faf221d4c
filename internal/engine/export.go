package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"datapilot/engine/internal/appdirs"
	"datapilot/engine/internal/errinfo"
)

type exportParams struct {
	Action string `json:"action"`
	Format string `json:"format"`
}

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ReportExport writes the most recent report of a kind to the reports
// directory, as markdown or as rendered HTML.
func (e *Engine) ReportExport(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p exportParams
	if errInfo := decodeParams(params, &p, errinfo.PhaseReport); errInfo != nil {
		return nil, errInfo
	}
	if p.Action != QuickActionStructural && p.Action != QuickActionStatistics {
		return nil, errinfo.ValidationFailed(errinfo.PhaseReport, "unknown report action "+p.Action)
	}

	content, ok := e.lastReport(p.Action)
	if !ok {
		return nil, errinfo.ValidationFailed(errinfo.PhaseReport, "no "+p.Action+" report has been generated yet")
	}

	var data []byte
	var ext string
	switch p.Format {
	case "", "markdown":
		data = []byte(content)
		ext = "md"
	case "html":
		var buf bytes.Buffer
		if err := markdownRenderer.Convert([]byte(content), &buf); err != nil {
			return nil, errinfo.ValidationFailed(errinfo.PhaseReport, "render html: "+err.Error())
		}
		data = wrapHTML(p.Action, buf.Bytes())
		ext = "html"
	default:
		return nil, errinfo.ValidationFailed(errinfo.PhaseReport, "unknown format "+p.Format)
	}

	dir := appdirs.ReportsDir(e.dataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseReport, err.Error())
	}
	path := filepath.Join(dir, fmt.Sprintf("report_%s_%s.%s", p.Action, strings.ToLower(ulid.Make().String()), ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseReport, err.Error())
	}
	e.logger.Info("report exported", "action", p.Action, "path", path)
	return map[string]string{"path": path}, nil
}

func wrapHTML(title string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	buf.WriteString(title)
	buf.WriteString(" report</title>\n</head>\n<body>\n")
	buf.Write(body)
	buf.WriteString("\n</body>\n</html>\n")
	return buf.Bytes()
}
