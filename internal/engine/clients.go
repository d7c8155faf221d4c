package engine

import (
	"datapilot/engine/internal/groq"
	"datapilot/engine/internal/openai"
)

func newGroqClient() LLMClient { return groq.NewClient() }

func newOpenAIClient() LLMClient { return openai.NewClient() }
