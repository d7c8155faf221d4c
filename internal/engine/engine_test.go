package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"datapilot/engine/internal/agent"
	"datapilot/engine/internal/errinfo"
	"datapilot/engine/internal/llm"
	"datapilot/engine/internal/settings"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	params []any
}

func (n *recordingNotifier) Notify(method string, params any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, method)
	n.params = append(n.params, params)
}

func (n *recordingNotifier) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == method {
			c++
		}
	}
	return c
}

func newTestEngine(t *testing.T) (*Engine, *recordingNotifier) {
	t.Helper()
	t.Setenv("DATAPILOT_FAKE_LLM", "1")
	notifier := &recordingNotifier{}
	e := New(t.TempDir(), notifier, nil)
	return e, notifier
}

func setKey(t *testing.T, e *Engine) {
	t.Helper()
	params := []byte(`{"provider_id": "groq", "api_key": "gsk-test"}`)
	if _, errInfo := e.ProvidersSetApiKey(context.Background(), params); errInfo != nil {
		t.Fatalf("set key: %+v", errInfo)
	}
}

func loadCSV(t *testing.T, e *Engine, name, csv string) *DatasetLoadResult {
	t.Helper()
	params, _ := json.Marshal(map[string]string{
		"name":           name,
		"content_base64": base64.StdEncoding.EncodeToString([]byte(csv)),
	})
	res, errInfo := e.DatasetLoadInline(context.Background(), params)
	if errInfo != nil {
		t.Fatalf("load dataset: %+v", errInfo)
	}
	return res.(*DatasetLoadResult)
}

func TestDatasetLoadInline(t *testing.T) {
	e, _ := newTestEngine(t)
	res := loadCSV(t, e, "sales.csv", "region,units\nnorth,10\nsouth,20\n")

	if res.Rows != 2 || res.Columns != 2 {
		t.Fatalf("unexpected dims: %+v", res)
	}
	if res.ColumnMeta[1].Type != "numeric" {
		t.Fatalf("units should be numeric: %+v", res.ColumnMeta)
	}
	if res.DatasetID == "" || res.Sample == "" {
		t.Fatalf("missing id or sample: %+v", res)
	}
	if res.SchemaDiff != "" {
		t.Fatalf("first load should have no schema diff")
	}
}

func TestDatasetReplaceProducesSchemaDiff(t *testing.T) {
	e, _ := newTestEngine(t)
	loadCSV(t, e, "a.csv", "a,b\n1,x\n")
	res := loadCSV(t, e, "b.csv", "a,c\n1,y\n")

	if !strings.Contains(res.SchemaDiff, "+ c") || !strings.Contains(res.SchemaDiff, "- b") {
		t.Fatalf("schema diff should show the column change:\n%s", res.SchemaDiff)
	}
}

func TestDatasetLoadFailureKeepsPreviousSession(t *testing.T) {
	e, _ := newTestEngine(t)
	loadCSV(t, e, "ok.csv", "a,b\n1,2\n")

	params, _ := json.Marshal(map[string]string{
		"name":           "bad.csv",
		"content_base64": base64.StdEncoding.EncodeToString([]byte("")),
	})
	_, errInfo := e.DatasetLoadInline(context.Background(), params)
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeDatasetLoadFailed {
		t.Fatalf("expected DATASET_LOAD_FAILED, got %+v", errInfo)
	}
	if e.currentSession() == nil || e.currentSession().dataset.Name() != "ok.csv" {
		t.Fatalf("previous session should survive a failed load")
	}
}

func TestAgentAskRequiresDataset(t *testing.T) {
	e, _ := newTestEngine(t)
	_, errInfo := e.AgentAsk(context.Background(), []byte(`{"question": "hi"}`))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeNoDatasetLoaded {
		t.Fatalf("expected NO_DATASET_LOADED, got %+v", errInfo)
	}
}

func TestAgentAskRequiresProviderKey(t *testing.T) {
	e, _ := newTestEngine(t)
	loadCSV(t, e, "a.csv", "a,b\n1,2\n")
	_, errInfo := e.AgentAsk(context.Background(), []byte(`{"question": "hi"}`))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeProviderNotConfigured {
		t.Fatalf("expected PROVIDER_NOT_CONFIGURED, got %+v", errInfo)
	}
}

func TestAgentAskWithFakeProvider(t *testing.T) {
	e, _ := newTestEngine(t)
	setKey(t, e)
	loadCSV(t, e, "a.csv", "a,b\n1,2\n")

	res, errInfo := e.AgentAsk(context.Background(), []byte(`{"question": "what is this?"}`))
	if errInfo != nil {
		t.Fatalf("ask: %+v", errInfo)
	}
	ask := res.(*AskResult)
	if ask.State != agent.StateDone {
		t.Fatalf("unexpected state: %+v", ask)
	}
	if ask.Answer != "offline answer" {
		t.Fatalf("unexpected answer: %q", ask.Answer)
	}
}

func TestQuickActionAndReportExport(t *testing.T) {
	e, _ := newTestEngine(t)
	setKey(t, e)
	loadCSV(t, e, "a.csv", "a,b\n1,2\n")

	res, errInfo := e.QuickActionRun(context.Background(), []byte(`{"action": "structural"}`))
	if errInfo != nil {
		t.Fatalf("quick action: %+v", errInfo)
	}
	report := res.(map[string]string)["report"]
	if !strings.Contains(report, "structure") {
		t.Fatalf("unexpected report: %q", report)
	}

	out, errInfo := e.ReportExport(context.Background(), []byte(`{"action": "structural", "format": "html"}`))
	if errInfo != nil {
		t.Fatalf("export: %+v", errInfo)
	}
	path := out.(map[string]string)["path"]
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "<html>") {
		t.Fatalf("expected html document, got: %s", data)
	}
}

func TestReportExportWithoutReport(t *testing.T) {
	e, _ := newTestEngine(t)
	_, errInfo := e.ReportExport(context.Background(), []byte(`{"action": "statistics", "format": "markdown"}`))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %+v", errInfo)
	}
}

func TestChartRequestEmitsNotification(t *testing.T) {
	e, notifier := newTestEngine(t)
	setKey(t, e)
	loadCSV(t, e, "sales.csv", "region,units\nnorth,10\nsouth,20\n")

	_, errInfo := e.ChartRequest(context.Background(), []byte(`{"description": "units per region"}`))
	if errInfo != nil {
		t.Fatalf("chart: %+v", errInfo)
	}
	if notifier.count("ChartRendered") != 1 {
		t.Fatalf("expected one ChartRendered notification, got %d", notifier.count("ChartRendered"))
	}
}

func TestQuickActionStatisticsWithoutNumericColumns(t *testing.T) {
	e, _ := newTestEngine(t)
	setKey(t, e)
	loadCSV(t, e, "names.csv", "name,city\nalice,SP\nbob,RJ\n")

	res, errInfo := e.QuickActionRun(context.Background(), []byte(`{"action": "statistics"}`))
	if errInfo != nil {
		t.Fatalf("quick action: %+v", errInfo)
	}
	report := res.(map[string]string)["report"]
	if !strings.Contains(report, "no numeric columns") {
		t.Fatalf("expected fixed no-numeric message, got %q", report)
	}
}

// rateLimitedClient fails with ErrRateLimited a fixed number of times, then
// succeeds.
type rateLimitedClient struct {
	failures int
	calls    int
}

func (c *rateLimitedClient) ValidateKey(ctx context.Context, apiKey string) error { return nil }

func (c *rateLimitedClient) Chat(ctx context.Context, apiKey string, cfg llm.Config, messages []llm.Message) (string, error) {
	c.calls++
	if c.calls <= c.failures {
		return "", llm.ErrRateLimited
	}
	return "Final Answer: recovered", nil
}

func TestRateLimitRetriesWithBackoffThenRecovers(t *testing.T) {
	e, notifier := newTestEngine(t)
	setKey(t, e)
	loadCSV(t, e, "a.csv", "a,b\n1,2\n")

	var delays []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	e.clients[settings.ProviderGroq] = &rateLimitedClient{failures: 2}

	res, errInfo := e.AgentAsk(context.Background(), []byte(`{"question": "q"}`))
	if errInfo != nil {
		t.Fatalf("ask: %+v", errInfo)
	}
	if res.(*AskResult).Answer != "recovered" {
		t.Fatalf("unexpected answer: %+v", res)
	}
	if len(delays) != 2 || delays[0] != 5*time.Second || delays[1] != 10*time.Second {
		t.Fatalf("unexpected backoff delays: %v", delays)
	}
	if notifier.count("ProviderRateLimitWarning") != 2 {
		t.Fatalf("expected 2 rate limit warnings, got %d", notifier.count("ProviderRateLimitWarning"))
	}
}

func TestRateLimitExhaustedSurfacesRetryableError(t *testing.T) {
	e, _ := newTestEngine(t)
	setKey(t, e)
	loadCSV(t, e, "a.csv", "a,b\n1,2\n")

	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	e.clients[settings.ProviderGroq] = &rateLimitedClient{failures: 100}

	_, errInfo := e.AgentAsk(context.Background(), []byte(`{"question": "q"}`))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeProviderRateLimited {
		t.Fatalf("expected PROVIDER_RATE_LIMITED, got %+v", errInfo)
	}
	if !errInfo.Retryable {
		t.Fatalf("rate limit error should be retryable")
	}
}

func TestProvidersGetStatus(t *testing.T) {
	e, _ := newTestEngine(t)
	setKey(t, e)

	res, errInfo := e.ProvidersGetStatus(context.Background(), nil)
	if errInfo != nil {
		t.Fatalf("status: %+v", errInfo)
	}
	statuses := res.(map[string]any)["providers"].([]providerStatus)
	if len(statuses) != 2 {
		t.Fatalf("expected two providers, got %d", len(statuses))
	}
	byID := map[string]providerStatus{}
	for _, s := range statuses {
		byID[s.ID] = s
	}
	if !byID["groq"].Enabled || !byID["groq"].HasKey || !byID["groq"].Default {
		t.Fatalf("unexpected groq status: %+v", byID["groq"])
	}
	if byID["openai"].Enabled || byID["openai"].HasKey {
		t.Fatalf("unexpected openai status: %+v", byID["openai"])
	}
}

func TestProvidersValidateWithFake(t *testing.T) {
	e, _ := newTestEngine(t)
	res, errInfo := e.ProvidersValidate(context.Background(), []byte(`{"provider_id": "groq", "api_key": "gsk-x"}`))
	if errInfo != nil {
		t.Fatalf("validate: %+v", errInfo)
	}
	if valid := res.(map[string]any)["valid"].(bool); !valid {
		t.Fatalf("expected valid key")
	}

	res, errInfo = e.ProvidersValidate(context.Background(), []byte(`{"provider_id": "groq", "api_key": " "}`))
	if errInfo != nil {
		t.Fatalf("validate: %+v", errInfo)
	}
	if valid := res.(map[string]any)["valid"].(bool); valid {
		t.Fatalf("expected invalid key")
	}
}

func TestEngineGetInfo(t *testing.T) {
	e, _ := newTestEngine(t)
	res, errInfo := e.EngineGetInfo(context.Background(), nil)
	if errInfo != nil {
		t.Fatalf("info: %+v", errInfo)
	}
	info := res.(map[string]any)
	if info["name"] != EngineName || info["api_version"] != APIVersion {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info["dataset_loaded"] != false {
		t.Fatalf("no dataset should be loaded yet")
	}

	loadCSV(t, e, "a.csv", "a,b\n1,2\n")
	res, _ = e.EngineGetInfo(context.Background(), nil)
	if res.(map[string]any)["dataset_loaded"] != true {
		t.Fatalf("dataset should be loaded")
	}
}
