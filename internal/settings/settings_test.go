package settings

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	settings, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !settings.Providers[ProviderGroq].Enabled {
		t.Fatalf("groq should be enabled by default")
	}
	if settings.Providers[ProviderOpenAI].Enabled {
		t.Fatalf("openai should be disabled by default")
	}
	if settings.Agent.MaxIterations != 6 {
		t.Fatalf("unexpected default iteration cap: %d", settings.Agent.MaxIterations)
	}
	if settings.DefaultModelID != "groq:llama-3.1-8b-instant" {
		t.Fatalf("unexpected default model: %s", settings.DefaultModelID)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	if _, err := store.Update(func(s *Settings) {
		s.Providers[ProviderOpenAI] = ProviderSettings{Enabled: true}
		s.Agent.MaxIterations = 10
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Providers[ProviderOpenAI].Enabled {
		t.Fatalf("openai enable did not persist")
	}
	if reloaded.Agent.MaxIterations != 10 {
		t.Fatalf("iteration cap did not persist")
	}
}

func TestBackfillRepairsPartialFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	if err := store.Save(&Settings{Agent: AgentSettings{MaxIterations: -1}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	settings, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Agent.MaxIterations != 6 {
		t.Fatalf("expected backfilled cap, got %d", settings.Agent.MaxIterations)
	}
	if _, ok := settings.Providers[ProviderGroq]; !ok {
		t.Fatalf("expected groq provider backfill")
	}
}
