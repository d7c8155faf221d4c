// Package engine owns the loaded dataset, the provider boundary and the
// RPC-facing operations. One engine serves one presentation process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"datapilot/engine/internal/agent"
	"datapilot/engine/internal/capability"
	"datapilot/engine/internal/dataset"
	"datapilot/engine/internal/envutil"
	"datapilot/engine/internal/errinfo"
	"datapilot/engine/internal/llm"
	"datapilot/engine/internal/logging"
	"datapilot/engine/internal/secrets"
	"datapilot/engine/internal/settings"
)

const (
	EngineName    = "datapilot-engine"
	EngineVersion = "0.1.0"
	APIVersion    = "1"
)

const (
	rateLimitBaseDelay   = 5 * time.Second
	rateLimitMaxDelay    = 2 * time.Minute
	rateLimitMaxAttempts = 3
)

// LLMClient is the provider boundary. Both real clients and the fake used
// for offline runs satisfy it.
type LLMClient interface {
	ValidateKey(ctx context.Context, apiKey string) error
	Chat(ctx context.Context, apiKey string, cfg llm.Config, messages []llm.Message) (string, error)
}

// Notifier delivers one-way messages to the presentation layer.
type Notifier interface {
	Notify(method string, params any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(method string, params any) {}

type session struct {
	id       string
	dataset  *dataset.Handle
	registry *capability.Registry
	loop     *agent.Loop
	info     *capability.InfoCapability
	stats    *capability.StatsCapability
	chart    *capability.ChartCapability
}

type Engine struct {
	dataDir  string
	settings *settings.Store
	secrets  *secrets.Store
	clients  map[string]LLMClient
	notifier Notifier
	logger   *slog.Logger

	// sleep is swappable so tests do not wait out real backoff delays.
	sleep             func(ctx context.Context, d time.Duration) error
	rateLimitAttempts int

	mu          sync.Mutex
	session     *session
	lastReports map[string]string
}

func New(dataDir string, notifier Notifier, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	clients := map[string]LLMClient{
		settings.ProviderGroq:   newGroqClient(),
		settings.ProviderOpenAI: newOpenAIClient(),
	}
	if envutil.Bool("DATAPILOT_FAKE_LLM") {
		fake := newFakeClient()
		clients[settings.ProviderGroq] = fake
		clients[settings.ProviderOpenAI] = fake
	}
	return &Engine{
		dataDir:           dataDir,
		settings:          settings.NewStore(filepath.Join(dataDir, "settings.json")),
		secrets:           secrets.NewStore(filepath.Join(dataDir, "secrets.enc"), filepath.Join(dataDir, "master.key")),
		clients:           clients,
		notifier:          notifier,
		logger:            logger,
		sleep:             sleepWithContext,
		rateLimitAttempts: envutil.Int("DATAPILOT_RATE_LIMIT_ATTEMPTS", rateLimitMaxAttempts),
		lastReports:       make(map[string]string),
	}
}

// activeProvider resolves the configured default model to a provider client
// and API key. A missing or disabled provider is a settings problem, not a
// network one.
func (e *Engine) activeProvider(phase string) (providerID string, client LLMClient, apiKey string, cfg llm.Config, errInfo *errinfo.ErrorInfo) {
	st, err := e.settings.Load()
	if err != nil {
		return "", nil, "", llm.Config{}, errinfo.ValidationFailed(phase, "load settings: "+err.Error())
	}
	providerID, model := splitModelID(st.DefaultModelID)
	client, ok := e.clients[providerID]
	if !ok {
		return "", nil, "", llm.Config{}, errinfo.ValidationFailed(phase, "unknown provider "+providerID)
	}
	if !st.Providers[providerID].Enabled {
		info := errinfo.ProviderNotConfigured(phase)
		info.ProviderID = providerID
		return "", nil, "", llm.Config{}, info
	}
	apiKey, err = e.secrets.GetProviderKey(providerID)
	if err != nil {
		return "", nil, "", llm.Config{}, errinfo.ValidationFailed(phase, "load key: "+err.Error())
	}
	if strings.TrimSpace(apiKey) == "" {
		info := errinfo.ProviderNotConfigured(phase)
		info.ProviderID = providerID
		return "", nil, "", llm.Config{}, info
	}
	cfg = llm.DefaultConfig()
	if model != "" {
		cfg.Model = model
	}
	return providerID, client, apiKey, cfg, nil
}

func splitModelID(modelID string) (providerID, model string) {
	parts := strings.SplitN(modelID, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return settings.ProviderGroq, modelID
}

// completer returns the model-call surface handed to the loop and the
// capabilities. Provider and key are resolved per call so settings changes
// apply without reloading the dataset; rate limits are retried here, at the
// engine boundary, never inside the loop.
func (e *Engine) completer() llm.Completer {
	return llm.CompleterFunc(func(ctx context.Context, messages []llm.Message) (string, error) {
		providerID, client, apiKey, cfg, errInfo := e.activeProvider(errinfo.PhaseAgent)
		if errInfo != nil {
			return "", &providerConfigError{info: errInfo}
		}
		return e.chatWithRetry(ctx, providerID, client, apiKey, cfg, messages)
	})
}

// providerConfigError carries a settings-level ErrorInfo through the error
// channel of the completer.
type providerConfigError struct {
	info *errinfo.ErrorInfo
}

func (e *providerConfigError) Error() string { return e.info.ErrorCode }

func (e *Engine) chatWithRetry(ctx context.Context, providerID string, client LLMClient, apiKey string, cfg llm.Config, messages []llm.Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt < e.rateLimitAttempts; attempt++ {
		out, err := client.Chat(ctx, apiKey, cfg, messages)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !errors.Is(err, llm.ErrRateLimited) {
			return "", err
		}
		if attempt == e.rateLimitAttempts-1 {
			break
		}
		delay := rateLimitBackoffDuration(attempt)
		e.logger.Warn("provider rate limited, backing off",
			"provider", providerID, "attempt", attempt+1, "delay", delay.String())
		e.notifier.Notify("ProviderRateLimitWarning", map[string]any{
			"provider_id":  providerID,
			"attempt":      attempt + 1,
			"wait_seconds": int(delay.Seconds()),
		})
		if err := e.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func rateLimitBackoffDuration(attempt int) time.Duration {
	delay := rateLimitBaseDelay << attempt
	if delay > rateLimitMaxDelay {
		delay = rateLimitMaxDelay
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// newSession builds the per-dataset capability registry and routing loop.
func (e *Engine) newSession(ds *dataset.Handle) (*session, error) {
	st, err := e.settings.Load()
	if err != nil {
		return nil, err
	}
	completer := e.completer()
	info := capability.NewInfo(completer)
	stats := capability.NewStats(completer)
	chart := capability.NewChart(completer, func(d capability.ChartData) error {
		e.notifier.Notify("ChartRendered", d)
		return nil
	})
	eval := capability.NewEval(time.Duration(st.Agent.EvalTimeoutMS) * time.Millisecond)

	registry, err := capability.NewRegistry(info, stats, chart, eval)
	if err != nil {
		return nil, err
	}
	loop := agent.New(completer, registry, agent.Config{
		MaxIterations: st.Agent.MaxIterations,
		ParseRetries:  st.Agent.ParseRetries,
		Logger:        e.logger,
	})
	return &session{
		id:       ulid.Make().String(),
		dataset:  ds,
		registry: registry,
		loop:     loop,
		info:     info,
		stats:    stats,
		chart:    chart,
	}, nil
}

func (e *Engine) currentSession() *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// mapLLMError converts a provider boundary error into the structured
// payload the presentation layer acts on.
func (e *Engine) mapLLMError(phase, providerID string, err error) *errinfo.ErrorInfo {
	var cfgErr *providerConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.info
	}
	var info *errinfo.ErrorInfo
	switch {
	case errors.Is(err, llm.ErrUnauthorized):
		info = errinfo.ProviderAuthFailed(phase)
	case errors.Is(err, llm.ErrRateLimited):
		info = errinfo.ProviderRateLimited(phase, err.Error())
	case errors.Is(err, llm.ErrEgressBlocked):
		info = errinfo.EgressBlocked(phase, err.Error())
	case errors.Is(err, llm.ErrUnavailable):
		info = errinfo.ProviderUnavailable(phase, err.Error())
	case isNetworkError(err):
		info = errinfo.NetworkUnavailable(phase, err.Error())
	default:
		info = errinfo.ProviderUnavailable(phase, err.Error())
	}
	info.ProviderID = providerID
	return info
}

func isProviderError(err error) bool {
	var cfgErr *providerConfigError
	return errors.Is(err, llm.ErrUnauthorized) ||
		errors.Is(err, llm.ErrRateLimited) ||
		errors.Is(err, llm.ErrEgressBlocked) ||
		errors.Is(err, llm.ErrUnavailable) ||
		errors.As(err, &cfgErr) ||
		isNetworkError(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (e *Engine) rememberReport(action, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastReports[action] = content
}

func (e *Engine) lastReport(action string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	content, ok := e.lastReports[action]
	return content, ok
}

func describeSession(s *session) string {
	if s == nil {
		return "none"
	}
	return fmt.Sprintf("%s (%dx%d)", s.dataset.Name(), s.dataset.RowCount(), s.dataset.ColumnCount())
}
