package llm

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message exchanged with a completion provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config carries the immutable per-request model settings. The routing loop
// never mutates this; it is fixed when the session engine is constructed.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultConfig mirrors the product defaults: a small, fast model with
// deterministic output and a tight token budget.
func DefaultConfig() Config {
	return Config{
		Model:       "llama-3.1-8b-instant",
		MaxTokens:   512,
		Temperature: 0,
	}
}
