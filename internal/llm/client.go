// Package llm abstracts the language model collaborator behind a single
// synchronous completion call.
package llm

import (
	"context"
	"fmt"

	"mcqforge/config"
)

// Client defines the interface for LLM clients.
type Client interface {
	// Complete sends a system message and user prompt and returns the raw
	// completion text. Implementations must honor ctx cancellation.
	Complete(ctx context.Context, systemMessage, userPrompt string) (string, error)
}

// NewFromConfig builds the configured provider.
func NewFromConfig(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaClient(cfg.Host, cfg.Model)
	case "openai":
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
