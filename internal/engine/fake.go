package engine

import (
	"context"
	"fmt"
	"strings"

	"datapilot/engine/internal/llm"
)

// fakeClient stands in for both providers when DATAPILOT_FAKE_LLM is set.
// It answers deterministically from the prompt shape so the full loop can
// run offline, in tests and in demos.
type fakeClient struct{}

func newFakeClient() *fakeClient { return &fakeClient{} }

func (f *fakeClient) ValidateKey(ctx context.Context, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return llm.ErrUnauthorized
	}
	return nil
}

func (f *fakeClient) Chat(ctx context.Context, apiKey string, cfg llm.Config, messages []llm.Message) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", llm.ErrUnauthorized
	}
	system := ""
	user := ""
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = m.Content
		case llm.RoleUser:
			user = m.Content
		}
	}
	switch {
	case strings.Contains(system, "JSON spec"):
		return fmt.Sprintf(`{"x_column": %q, "y_column": null, "aggregation": "count", "kind": "bar", "top_n": 0}`,
			firstListedColumn(user)), nil
	case strings.Contains(system, "dataset structure"):
		return "Offline summary of the dataset structure.", nil
	case strings.Contains(system, "descriptive statistics"):
		return "Offline summary of the statistics.", nil
	case strings.Contains(user, "Observation:"):
		return "Thought: I have what I need\nFinal Answer: offline answer based on the observation", nil
	default:
		return "Final Answer: offline answer", nil
	}
}

// firstListedColumn pulls the first column name out of the chart prompt's
// "Columns:" block.
func firstListedColumn(user string) string {
	_, after, found := strings.Cut(user, "Columns:\n")
	if !found {
		return ""
	}
	line, _, _ := strings.Cut(after, "\n")
	name, _, _ := strings.Cut(line, " (")
	return strings.TrimSpace(name)
}
