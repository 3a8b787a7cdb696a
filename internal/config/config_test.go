package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers.OpenAIAPIKey = "sk-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 300, cfg.Server.IdleTTL)
	assert.Equal(t, "gpt-4o-mini", cfg.Extraction.ModelID)
	assert.True(t, cfg.Extraction.UseSchemaConstraints)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero idle ttl", func(c *Config) { c.Server.IdleTTL = 0 }, true},
		{"empty sweep schedule", func(c *Config) { c.Server.SweepSchedule = "" }, true},
		{"missing model", func(c *Config) { c.Extraction.ModelID = "" }, true},
		{"zero buffer", func(c *Config) { c.Extraction.MaxCharBuffer = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"no credentials", func(c *Config) { c.Providers.OpenAIAPIKey = "" }, true},
		{
			"model url replaces credentials",
			func(c *Config) {
				c.Providers.OpenAIAPIKey = ""
				c.Extraction.ModelURL = "http://localhost:11434/v1"
			},
			false,
		},
		{
			"anthropic key alone suffices",
			func(c *Config) {
				c.Providers.OpenAIAPIKey = ""
				c.Providers.AnthropicAPIKey = "sk-ant"
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_StringRedactsKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Providers.AnthropicAPIKey = "sk-ant-secret"

	s := cfg.String()
	assert.NotContains(t, s, "sk-test")
	assert.NotContains(t, s, "sk-ant-secret")
	assert.True(t, strings.Contains(s, "[REDACTED]"))
}

func TestExtractionConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Extraction.Temperature = 0.4
	cfg.Extraction.ModelURL = "http://localhost:11434/v1"

	opts := cfg.Extraction.Options(DefaultPrompt())
	require.NoError(t, opts.Validate())
	assert.Equal(t, "gpt-4o-mini", opts.ModelID)
	assert.Equal(t, 0.4, opts.Temperature)
	assert.Equal(t, "http://localhost:11434/v1", opts.ModelURL)
	assert.True(t, opts.SchemaConstraints)
	assert.NotEmpty(t, opts.Prompt)
	assert.NotEmpty(t, opts.Examples)
}
