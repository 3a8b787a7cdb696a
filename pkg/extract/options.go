package extract

import "fmt"

// Example is one worked extraction example included in the model prompt.
type Example struct {
	Text  string `json:"text"`
	Spans []Span `json:"extractions"`
}

// Options configures one extraction pipeline. The value is immutable after
// construction: sessions created from it never observe later changes, which
// keeps concurrent sessions independent.
type Options struct {
	// Prompt is the extraction instruction given to the model.
	Prompt string

	// Examples are few-shot examples serialized into the system prompt.
	Examples []Example

	// ModelID selects the provider and model, e.g. "gpt-4o-mini" or
	// "claude-sonnet-4".
	ModelID string

	// SchemaConstraints enables validation of the raw model output against
	// the span-list JSON schema before decoding.
	SchemaConstraints bool

	// MaxCharBuffer bounds per-call chunking and doubles as the streaming
	// buffer threshold.
	MaxCharBuffer int

	// Temperature is the provider sampling temperature. Zero means provider
	// default.
	Temperature float64

	// ModelURL points at a self-hosted or proxied endpoint (Ollama, an
	// OpenAI-compatible gateway). Empty means the provider's default.
	ModelURL string

	// ProviderParams carries extra provider parameters, opaque to the core.
	ProviderParams map[string]string
}

// Validate checks the options at construction time. Invalid options are a
// configuration error and never surface mid-session.
func (o Options) Validate() error {
	if o.ModelID == "" {
		return fmt.Errorf("model_id is required")
	}
	if o.MaxCharBuffer <= 0 {
		return fmt.Errorf("max_char_buffer must be positive, got %d", o.MaxCharBuffer)
	}
	if o.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}
