package egress

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"datapilot/engine/internal/llm"
)

type recordingTransport struct{ called bool }

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.called = true
	return &http.Response{StatusCode: http.StatusOK, Request: req}, nil
}

func request(t *testing.T, raw string) *http.Request {
	t.Helper()
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return &http.Request{URL: parsed}
}

func TestAllowlistBlocksUnlistedHosts(t *testing.T) {
	base := &recordingTransport{}
	rt := NewAllowlistRoundTripper(base, []string{"api.groq.com"})

	blocked := []string{
		"https://example.com/v1/chat",
		"http://api.groq.com/v1/chat",
		"https://10.0.0.1/v1/chat",
	}
	for _, raw := range blocked {
		if _, err := rt.RoundTrip(request(t, raw)); !errors.Is(err, llm.ErrEgressBlocked) {
			t.Fatalf("expected egress blocked for %s, got %v", raw, err)
		}
	}
	if base.called {
		t.Fatalf("base transport must not be reached for blocked requests")
	}
}

func TestAllowlistPassesListedHost(t *testing.T) {
	base := &recordingTransport{}
	rt := NewAllowlistRoundTripper(base, []string{"api.groq.com"})
	if _, err := rt.RoundTrip(request(t, "https://api.groq.com/openai/v1/chat/completions")); err != nil {
		t.Fatalf("expected pass-through, got %v", err)
	}
	if !base.called {
		t.Fatalf("base transport should have been called")
	}
}
