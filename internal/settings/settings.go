package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const schemaVersion = 1

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
)

const (
	defaultModelID       = "groq:llama-3.1-8b-instant"
	defaultMaxIterations = 6
	defaultParseRetries  = 2
	defaultEvalTimeoutMS = 5000
)

type ProviderSettings struct {
	Enabled bool `json:"enabled"`
}

// AgentSettings are the tunable limits of the routing loop.
type AgentSettings struct {
	MaxIterations int `json:"max_iterations"`
	ParseRetries  int `json:"parse_retries"`
	EvalTimeoutMS int `json:"eval_timeout_ms"`
}

type Settings struct {
	SchemaVersion  int                         `json:"schema_version"`
	Providers      map[string]ProviderSettings `json:"providers"`
	DefaultModelID string                      `json:"default_model_id,omitempty"`
	Agent          AgentSettings               `json:"agent"`
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultSettings(), nil
		}
		return nil, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	backfillSettings(&settings)
	return &settings, nil
}

func (s *Store) Save(settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backfillSettings(settings)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	settings, err := s.Load()
	if err != nil {
		return nil, err
	}
	fn(settings)
	return settings, s.Save(settings)
}

func defaultSettings() *Settings {
	return &Settings{
		SchemaVersion: schemaVersion,
		Providers: map[string]ProviderSettings{
			ProviderGroq:   {Enabled: true},
			ProviderOpenAI: {Enabled: false},
		},
		DefaultModelID: defaultModelID,
		Agent:          defaultAgentSettings(),
	}
}

func defaultAgentSettings() AgentSettings {
	return AgentSettings{
		MaxIterations: defaultMaxIterations,
		ParseRetries:  defaultParseRetries,
		EvalTimeoutMS: defaultEvalTimeoutMS,
	}
}

func backfillSettings(settings *Settings) {
	if settings.SchemaVersion == 0 {
		settings.SchemaVersion = schemaVersion
	}
	if settings.Providers == nil {
		settings.Providers = map[string]ProviderSettings{}
	}
	if _, ok := settings.Providers[ProviderGroq]; !ok {
		settings.Providers[ProviderGroq] = ProviderSettings{Enabled: true}
	}
	if _, ok := settings.Providers[ProviderOpenAI]; !ok {
		settings.Providers[ProviderOpenAI] = ProviderSettings{Enabled: false}
	}
	if settings.DefaultModelID == "" {
		settings.DefaultModelID = defaultModelID
	}
	if settings.Agent.MaxIterations <= 0 {
		settings.Agent.MaxIterations = defaultMaxIterations
	}
	if settings.Agent.ParseRetries < 0 {
		settings.Agent.ParseRetries = defaultParseRetries
	}
	if settings.Agent.EvalTimeoutMS <= 0 {
		settings.Agent.EvalTimeoutMS = defaultEvalTimeoutMS
	}
}
