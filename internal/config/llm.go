package config

import "time"

// LLMConfig configures the reasoning provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, gemini, zai, openrouter
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	MaxRetries  int     `yaml:"max_retries"`

	// OpenRouter attribution headers
	SiteURL  string `yaml:"site_url,omitempty"`
	SiteName string `yaml:"site_name,omitempty"`
}

// Provider defaults applied when the config leaves model or base URL empty.
var providerDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai":     {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o"},
	"zai":        {BaseURL: "https://api.z.ai/api/paas/v4", Model: "glm-4.6"},
	"openrouter": {BaseURL: "https://openrouter.ai/api/v1", Model: "openai/gpt-4o"},
	"gemini":     {Model: "gemini-2.5-flash"},
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// ResolvedLLM returns the LLM section with provider defaults filled in.
func (c *Config) ResolvedLLM() LLMConfig {
	out := c.LLM
	def, ok := providerDefaults[out.Provider]
	if !ok {
		return out
	}
	// A base URL left over from another provider's defaults is replaced.
	if out.BaseURL == "" || (out.Provider != "openai" && out.BaseURL == providerDefaults["openai"].BaseURL) {
		out.BaseURL = def.BaseURL
	}
	if out.Model == "" || (out.Provider != "openai" && out.Model == providerDefaults["openai"].Model) {
		out.Model = def.Model
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	return out
}
