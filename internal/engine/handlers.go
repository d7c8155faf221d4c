package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	"datapilot/engine/internal/agent"
	"datapilot/engine/internal/capability"
	"datapilot/engine/internal/dataset"
	"datapilot/engine/internal/errinfo"
	"datapilot/engine/internal/settings"
)

const (
	QuickActionStructural = "structural"
	QuickActionStatistics = "statistics"
)

type ColumnMeta struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Nulls   int    `json:"nulls"`
	Markers int    `json:"markers"`
}

type DatasetLoadResult struct {
	DatasetID  string       `json:"dataset_id"`
	Name       string       `json:"name"`
	Rows       int          `json:"rows"`
	Columns    int          `json:"columns"`
	ColumnMeta []ColumnMeta `json:"column_meta"`
	Sample     string       `json:"sample"`
	SchemaDiff string       `json:"schema_diff,omitempty"`
}

type AskResult struct {
	Answer    string             `json:"answer"`
	State     agent.State        `json:"state"`
	Steps     []agent.Step       `json:"steps"`
	ErrorInfo *errinfo.ErrorInfo `json:"error_info,omitempty"`
}

func decodeParams(params json.RawMessage, v any, phase string) *errinfo.ErrorInfo {
	if len(params) == 0 {
		return errinfo.ValidationFailed(phase, "missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errinfo.ValidationFailed(phase, "invalid params: "+err.Error())
	}
	return nil
}

func (e *Engine) EngineGetInfo(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	s := e.currentSession()
	return map[string]any{
		"name":           EngineName,
		"version":        EngineVersion,
		"api_version":    APIVersion,
		"dataset_loaded": s != nil,
		"dataset":        describeSession(s),
	}, nil
}

type providerStatus struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
	HasKey  bool   `json:"has_key"`
	Default bool   `json:"default"`
}

func (e *Engine) ProvidersGetStatus(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	st, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, err.Error())
	}
	defaultProvider, _ := splitModelID(st.DefaultModelID)
	var statuses []providerStatus
	for _, id := range []string{settings.ProviderGroq, settings.ProviderOpenAI} {
		key, err := e.secrets.GetProviderKey(id)
		if err != nil {
			return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, err.Error())
		}
		statuses = append(statuses, providerStatus{
			ID:      id,
			Enabled: st.Providers[id].Enabled,
			HasKey:  key != "",
			Default: id == defaultProvider,
		})
	}
	return map[string]any{"providers": statuses}, nil
}

type providerKeyParams struct {
	ProviderID string `json:"provider_id"`
	APIKey     string `json:"api_key"`
}

func (e *Engine) ProvidersSetApiKey(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p providerKeyParams
	if errInfo := decodeParams(params, &p, errinfo.PhaseSettings); errInfo != nil {
		return nil, errInfo
	}
	if p.APIKey == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "api_key is required")
	}
	if err := e.secrets.SetProviderKey(p.ProviderID, p.APIKey); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, err.Error())
	}
	e.logger.Info("provider key stored", "provider", p.ProviderID)
	return map[string]bool{"ok": true}, nil
}

func (e *Engine) ProvidersClearApiKey(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p providerKeyParams
	if errInfo := decodeParams(params, &p, errinfo.PhaseSettings); errInfo != nil {
		return nil, errInfo
	}
	if err := e.secrets.ClearProviderKey(p.ProviderID); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, err.Error())
	}
	return map[string]bool{"ok": true}, nil
}

func (e *Engine) ProvidersValidate(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p providerKeyParams
	if errInfo := decodeParams(params, &p, errinfo.PhaseSettings); errInfo != nil {
		return nil, errInfo
	}
	client, ok := e.clients[p.ProviderID]
	if !ok {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "unknown provider "+p.ProviderID)
	}
	key := p.APIKey
	if key == "" {
		stored, err := e.secrets.GetProviderKey(p.ProviderID)
		if err != nil {
			return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, err.Error())
		}
		key = stored
	}
	if err := client.ValidateKey(ctx, key); err != nil {
		info := e.mapLLMError(errinfo.PhaseSettings, p.ProviderID, err)
		return map[string]any{"valid": false, "error_info": info}, nil
	}
	return map[string]any{"valid": true}, nil
}

type providerEnableParams struct {
	ProviderID string `json:"provider_id"`
	Enabled    bool   `json:"enabled"`
}

func (e *Engine) ProvidersSetEnabled(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p providerEnableParams
	if errInfo := decodeParams(params, &p, errinfo.PhaseSettings); errInfo != nil {
		return nil, errInfo
	}
	if _, ok := e.clients[p.ProviderID]; !ok {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "unknown provider "+p.ProviderID)
	}
	if _, err := e.settings.Update(func(s *settings.Settings) {
		s.Providers[p.ProviderID] = settings.ProviderSettings{Enabled: p.Enabled}
	}); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, err.Error())
	}
	return map[string]bool{"ok": true}, nil
}

type loadFileParams struct {
	Path string `json:"path"`
}

func (e *Engine) DatasetLoadFile(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p loadFileParams
	if errInfo := decodeParams(params, &p, errinfo.PhaseDataset); errInfo != nil {
		return nil, errInfo
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseDataset, err.Error())
	}
	return e.installDataset(filepath.Base(p.Path), data)
}

type loadInlineParams struct {
	Name          string `json:"name"`
	ContentBase64 string `json:"content_base64"`
}

func (e *Engine) DatasetLoadInline(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p loadInlineParams
	if errInfo := decodeParams(params, &p, errinfo.PhaseDataset); errInfo != nil {
		return nil, errInfo
	}
	data, err := base64.StdEncoding.DecodeString(p.ContentBase64)
	if err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseDataset, "invalid base64 content: "+err.Error())
	}
	return e.installDataset(p.Name, data)
}

// installDataset parses the bytes and swaps the session in. A parse failure
// leaves the previous session untouched; there is never a partial handle.
func (e *Engine) installDataset(name string, data []byte) (any, *errinfo.ErrorInfo) {
	ds, err := dataset.Load(name, data)
	if err != nil {
		e.logger.Warn("dataset load failed", "name", name, "error", err)
		return nil, errinfo.DatasetLoadFailed(err.Error())
	}
	sess, err := e.newSession(ds)
	if err != nil {
		return nil, errinfo.DatasetLoadFailed(err.Error())
	}

	e.mu.Lock()
	var schemaDiff string
	if e.session != nil {
		schemaDiff = dataset.SchemaDiff(e.session.dataset, ds)
	}
	e.session = sess
	e.lastReports = make(map[string]string)
	e.mu.Unlock()

	e.logger.Info("dataset loaded", "name", name, "rows", ds.RowCount(), "columns", ds.ColumnCount())
	return buildLoadResult(sess, schemaDiff), nil
}

func buildLoadResult(sess *session, schemaDiff string) *DatasetLoadResult {
	ds := sess.dataset
	nulls := ds.NullCounts()
	markers := ds.MarkerCounts()
	meta := make([]ColumnMeta, 0, ds.ColumnCount())
	for _, col := range ds.Columns() {
		meta = append(meta, ColumnMeta{
			Name:    col.Name,
			Type:    string(col.Type),
			Nulls:   nulls[col.Name],
			Markers: markers[col.Name],
		})
	}
	return &DatasetLoadResult{
		DatasetID:  sess.id,
		Name:       ds.Name(),
		Rows:       ds.RowCount(),
		Columns:    ds.ColumnCount(),
		ColumnMeta: meta,
		Sample:     ds.Sample(),
		SchemaDiff: schemaDiff,
	}
}

func (e *Engine) DatasetGetPreview(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	sess := e.currentSession()
	if sess == nil {
		return nil, errinfo.NoDatasetLoaded(errinfo.PhaseDataset)
	}
	return map[string]any{
		"sample":  sess.dataset.Sample(),
		"rows":    sess.dataset.RowCount(),
		"columns": sess.dataset.ColumnCount(),
	}, nil
}

func (e *Engine) DatasetGetInfo(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	sess := e.currentSession()
	if sess == nil {
		return nil, errinfo.NoDatasetLoaded(errinfo.PhaseDataset)
	}
	return map[string]any{
		"result":      buildLoadResult(sess, ""),
		"fingerprint": sess.dataset.Fingerprint(),
		"digest":      capability.StructuralDigest(sess.dataset),
	}, nil
}

type quickActionParams struct {
	Action string `json:"action"`
}

// QuickActionRun executes a report capability directly, bypassing the
// routing loop. These back the one-click buttons in the UI.
func (e *Engine) QuickActionRun(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p quickActionParams
	if errInfo := decodeParams(params, &p, errinfo.PhaseReport); errInfo != nil {
		return nil, errInfo
	}
	sess := e.currentSession()
	if sess == nil {
		return nil, errinfo.NoDatasetLoaded(errinfo.PhaseReport)
	}

	var target capability.Capability
	switch p.Action {
	case QuickActionStructural:
		target = sess.info
	case QuickActionStatistics:
		target = sess.stats
	default:
		return nil, errinfo.ValidationFailed(errinfo.PhaseReport, "unknown quick action "+p.Action)
	}

	out, err := target.Execute(ctx, "", sess.dataset)
	if err != nil {
		if isProviderError(err) {
			return nil, e.mapLLMError(errinfo.PhaseReport, "", err)
		}
		return nil, errinfo.CapabilityFailed(errinfo.PhaseReport, err.Error())
	}
	e.rememberReport(p.Action, out)
	return map[string]string{"report": out}, nil
}

type askParams struct {
	Question string `json:"question"`
}

func (e *Engine) AgentAsk(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p askParams
	if errInfo := decodeParams(params, &p, errinfo.PhaseAgent); errInfo != nil {
		return nil, errInfo
	}
	sess := e.currentSession()
	if sess == nil {
		return nil, errinfo.NoDatasetLoaded(errinfo.PhaseAgent)
	}
	if _, _, _, _, errInfo := e.activeProvider(errinfo.PhaseAgent); errInfo != nil {
		return nil, errInfo
	}

	res, err := sess.loop.Ask(ctx, sess.dataset, p.Question)
	if err != nil {
		return nil, e.mapLLMError(errinfo.PhaseAgent, "", err)
	}

	result := &AskResult{Answer: res.Answer, State: res.State, Steps: res.Steps}
	switch res.State {
	case agent.StateFailed:
		result.ErrorInfo = errinfo.AgentParseFailed("model output did not follow the routing grammar")
	case agent.StateCapped:
		result.ErrorInfo = errinfo.AgentLoopDetected("iteration cap reached; answer forced from the last observation")
	}
	return result, nil
}

type chartParams struct {
	Description string `json:"description"`
}

func (e *Engine) ChartRequest(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p chartParams
	if errInfo := decodeParams(params, &p, errinfo.PhaseChart); errInfo != nil {
		return nil, errInfo
	}
	sess := e.currentSession()
	if sess == nil {
		return nil, errinfo.NoDatasetLoaded(errinfo.PhaseChart)
	}
	if _, _, _, _, errInfo := e.activeProvider(errinfo.PhaseChart); errInfo != nil {
		return nil, errInfo
	}

	if _, err := sess.chart.Execute(ctx, p.Description, sess.dataset); err != nil {
		if isProviderError(err) {
			return nil, e.mapLLMError(errinfo.PhaseChart, "", err)
		}
		return nil, errinfo.CapabilityFailed(errinfo.PhaseChart, err.Error())
	}
	return map[string]bool{"ok": true}, nil
}
