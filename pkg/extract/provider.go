package extract

import (
	"context"
	"fmt"
	"strings"
)

// CompletionRequest contains the parameters for one model completion.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserText     string
	Temperature  float64
	MaxTokens    int
}

// Provider is an interface for LLM API providers.
type Provider interface {
	// Complete performs a single chat completion and returns the raw text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Name returns the provider name.
	Name() string
}

// Credentials holds API keys for the supported providers.
type Credentials struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// ProviderFactory creates providers from extraction options.
type ProviderFactory struct {
	creds Credentials
}

// NewProviderFactory creates a factory bound to a set of credentials.
func NewProviderFactory(creds Credentials) *ProviderFactory {
	return &ProviderFactory{creds: creds}
}

// NewProvider selects a provider by model ID. Claude models go to the
// Anthropic API; everything else (gpt*, o1*, gemini*, local models) goes
// through the OpenAI-compatible chat completions surface, honoring a model
// URL override for self-hosted endpoints.
func (f *ProviderFactory) NewProvider(opts Options) (Provider, error) {
	if strings.HasPrefix(opts.ModelID, "claude") {
		if f.creds.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic api key is required for model %s", opts.ModelID)
		}
		return NewAnthropicProvider(f.creds.AnthropicAPIKey), nil
	}

	// Self-hosted endpoints (Ollama, proxies) typically need no key.
	if f.creds.OpenAIAPIKey == "" && opts.ModelURL == "" {
		return nil, fmt.Errorf("openai api key is required for model %s", opts.ModelID)
	}
	return NewOpenAIProvider(f.creds.OpenAIAPIKey, opts.ModelURL), nil
}
