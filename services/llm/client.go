package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// SystemPrompt overrides the backend's default system role content.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// ForceJSON asks the backend for a JSON-only response where the API
	// supports it (OpenAI response_format, Ollama format). Backends that
	// cannot enforce it rely on prompt discipline instead.
	ForceJSON bool `json:"force_json,omitempty"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
