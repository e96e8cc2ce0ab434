// Package llm provides a provider-agnostic completion interface used by
// templated-prompt skills
package llm

import (
	"context"

	"github.com/pkg/errors"
)

// CompletionRequest is a single-turn completion request
type CompletionRequest struct {
	System    string
	Prompt    string
	Model     string // Overrides the provider default when set
	MaxTokens int    // Overrides the provider default when positive
}

// Completion is the provider response to a CompletionRequest
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// TotalTokens returns input plus output tokens
func (c Completion) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}

// Completer defines the interface for LLM provider implementations
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	Provider() string
}

// ProviderOptions contains configuration options for LLM providers
type ProviderOptions struct {
	Model     string
	MaxTokens int
	APIKey    string
	BaseURL   string
}

// Provider names
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// NewCompleter creates a completer for the named provider
func NewCompleter(providerName string, options ProviderOptions) (Completer, error) {
	switch providerName {
	case ProviderAnthropic:
		return NewAnthropicCompleter(options)
	case ProviderOpenAI:
		return NewOpenAICompleter(options)
	default:
		return nil, errors.Errorf("unsupported provider: %s", providerName)
	}
}

// ErrEmptyCompletion is returned when a provider answers with no text
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

func maxTokens(req, fallback int) int {
	if req > 0 {
		return req
	}
	return fallback
}
