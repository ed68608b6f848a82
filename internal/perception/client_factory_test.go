package perception

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formpilot/internal/config"
)

func TestNewClientFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		wantModel string
		wantURL   string
	}{
		{"openai", "openai", "gpt-4o", "https://api.openai.com/v1"},
		{"zai", "zai", "glm-4.6", "https://api.z.ai/api/paas/v4"},
		{"openrouter", "openrouter", "openai/gpt-4o", "https://openrouter.ai/api/v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.LLM.Provider = tt.provider
			cfg.LLM.APIKey = "k"

			client, err := NewClientFromConfig(context.Background(), cfg)
			require.NoError(t, err)
			oc, ok := client.(*OpenAIClient)
			require.True(t, ok, "expected *OpenAIClient, got %T", client)
			assert.Equal(t, tt.wantModel, oc.GetModel())
			assert.Equal(t, tt.wantURL, oc.baseURL)
			assert.Equal(t, Provider(tt.provider), oc.provider)
		})
	}
}

func TestNewClientFromConfig_Gemini(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "gemini"
	cfg.LLM.APIKey = "k"

	client, err := NewClientFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	gc, ok := client.(*GeminiClient)
	require.True(t, ok, "expected *GeminiClient, got %T", client)
	assert.Equal(t, "gemini-2.5-flash", gc.GetModel())
}

func TestNewClientFromConfig_Errors(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := NewClientFromConfig(context.Background(), cfg)
	assert.Error(t, err, "missing key")

	cfg.LLM.APIKey = "k"
	cfg.LLM.Provider = "carrier-pigeon"
	_, err = NewClientFromConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenRouterHeaders(t *testing.T) {
	assert.Empty(t, openRouterHeaders("", ""))
	assert.Equal(t, map[string]string{"X-Title": "fp"}, openRouterHeaders("", "fp"))
}
