package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderFactory_Selection(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		modelID  string
		modelURL string
		wantName string
		wantErr  bool
	}{
		{
			name:     "claude goes to anthropic",
			creds:    Credentials{AnthropicAPIKey: "sk-ant"},
			modelID:  "claude-sonnet-4",
			wantName: "anthropic",
		},
		{
			name:    "claude without key fails",
			creds:   Credentials{OpenAIAPIKey: "sk"},
			modelID: "claude-sonnet-4",
			wantErr: true,
		},
		{
			name:     "gpt goes to openai",
			creds:    Credentials{OpenAIAPIKey: "sk"},
			modelID:  "gpt-4o-mini",
			wantName: "openai",
		},
		{
			name:     "gemini uses openai-compatible surface",
			creds:    Credentials{OpenAIAPIKey: "sk"},
			modelID:  "gemini-2.0-flash",
			wantName: "openai",
		},
		{
			name:    "openai without key fails",
			creds:   Credentials{},
			modelID: "gpt-4o-mini",
			wantErr: true,
		},
		{
			name:     "model url needs no key",
			creds:    Credentials{},
			modelID:  "llama3",
			modelURL: "http://localhost:11434/v1",
			wantName: "openai",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := NewProviderFactory(tt.creds)
			opts := DefaultOptions(tt.modelID)
			opts.ModelURL = tt.modelURL

			p, err := factory.NewProvider(opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}
