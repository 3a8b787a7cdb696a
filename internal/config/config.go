package config

import (
	"encoding/json"
	"fmt"

	"github.com/spanstream/spanstream/pkg/extract"
)

// Config represents the main spanstream configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Extraction defaults, overridable per connection via query parameters
	Extraction ExtractionConfig `json:"extraction" mapstructure:"extraction"`

	// Providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP/websocket server configuration
type ServerConfig struct {
	Host          string `json:"host" mapstructure:"host"`
	Port          int    `json:"port" mapstructure:"port"`
	IdleTTL       int    `json:"idle_ttl" mapstructure:"idle_ttl"`             // seconds
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron spec
}

// ExtractionConfig holds the default extraction parameters
type ExtractionConfig struct {
	ModelID              string            `json:"model_id" mapstructure:"model_id"`
	UseSchemaConstraints bool              `json:"use_schema_constraints" mapstructure:"use_schema_constraints"`
	MaxCharBuffer        int               `json:"max_char_buffer" mapstructure:"max_char_buffer"`
	Temperature          float64           `json:"temperature" mapstructure:"temperature"`
	ModelURL             string            `json:"model_url" mapstructure:"model_url"`
	ProviderParams       map[string]string `json:"provider_params" mapstructure:"provider_params"`
	PromptFile           string            `json:"prompt_file" mapstructure:"prompt_file"`
}

// ProvidersConfig holds provider API keys
type ProvidersConfig struct {
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// Prompt is an extraction instruction plus its few-shot examples.
type Prompt struct {
	Description string            `json:"prompt"`
	Examples    []extract.Example `json:"examples"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			IdleTTL:       300,
			SweepSchedule: "@every 1m",
		},
		Extraction: ExtractionConfig{
			ModelID:              "gpt-4o-mini",
			UseSchemaConstraints: true,
			MaxCharBuffer:        extract.DefaultMaxCharBuffer,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// DefaultPrompt returns the built-in prompt and examples, used when no
// prompt file is configured.
func DefaultPrompt() Prompt {
	return Prompt{
		Description: extract.DefaultPrompt,
		Examples:    extract.DefaultExamples(),
	}
}

// Options assembles extraction options from the config and a prompt.
func (c *ExtractionConfig) Options(p Prompt) extract.Options {
	return extract.Options{
		Prompt:            p.Description,
		Examples:          p.Examples,
		ModelID:           c.ModelID,
		SchemaConstraints: c.UseSchemaConstraints,
		MaxCharBuffer:     c.MaxCharBuffer,
		Temperature:       c.Temperature,
		ModelURL:          c.ModelURL,
		ProviderParams:    c.ProviderParams,
	}
}

// String returns a JSON representation of the config with keys redacted
func (c *Config) String() string {
	clone := *c
	if clone.Providers.OpenAIAPIKey != "" {
		clone.Providers.OpenAIAPIKey = "[REDACTED]"
	}
	if clone.Providers.AnthropicAPIKey != "" {
		clone.Providers.AnthropicAPIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(&clone, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.IdleTTL <= 0 {
		return fmt.Errorf("server idle_ttl must be positive, got %d", c.Server.IdleTTL)
	}
	if c.Server.SweepSchedule == "" {
		return fmt.Errorf("server sweep_schedule is required")
	}

	if c.Extraction.ModelID == "" {
		return fmt.Errorf("extraction model_id is required")
	}
	if c.Extraction.MaxCharBuffer <= 0 {
		return fmt.Errorf("extraction max_char_buffer must be positive, got %d", c.Extraction.MaxCharBuffer)
	}

	// A self-hosted endpoint needs no key; otherwise at least one provider
	// must be usable.
	if c.Providers.OpenAIAPIKey == "" && c.Providers.AnthropicAPIKey == "" && c.Extraction.ModelURL == "" {
		return fmt.Errorf("no provider credentials configured: set an API key or a model_url")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}
