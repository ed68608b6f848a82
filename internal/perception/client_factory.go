package perception

import (
	"context"
	"fmt"

	"formpilot/internal/config"
	"formpilot/internal/logging"
)

// NewClientFromConfig builds the reasoning client selected by cfg.LLM.
func NewClientFromConfig(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	llm := cfg.ResolvedLLM()
	if llm.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", llm.Provider)
	}

	logging.Boot("LLM provider: %s model=%s", llm.Provider, llm.Model)

	switch Provider(llm.Provider) {
	case ProviderOpenAI, ProviderZAI, ProviderOpenRouter:
		oc := DefaultOpenAIConfig(llm.APIKey)
		oc.Provider = Provider(llm.Provider)
		oc.BaseURL = llm.BaseURL
		oc.Model = llm.Model
		oc.Timeout = cfg.GetLLMTimeout()
		oc.Temperature = llm.Temperature
		if llm.MaxTokens > 0 {
			oc.MaxTokens = llm.MaxTokens
		}
		oc.MaxRetries = llm.MaxRetries
		if Provider(llm.Provider) == ProviderOpenRouter {
			oc.Headers = openRouterHeaders(llm.SiteURL, llm.SiteName)
		}
		return NewOpenAIClientWithConfig(oc), nil

	case ProviderGemini:
		gc := DefaultGeminiConfig(llm.APIKey)
		gc.Model = llm.Model
		gc.Timeout = cfg.GetLLMTimeout()
		gc.Temperature = llm.Temperature
		if llm.MaxTokens > 0 {
			gc.MaxOutputTokens = llm.MaxTokens
		}
		return NewGeminiClient(ctx, gc, llm.BaseURL)

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llm.Provider)
	}
}

func openRouterHeaders(siteURL, siteName string) map[string]string {
	headers := map[string]string{}
	if siteURL != "" {
		headers["HTTP-Referer"] = siteURL
	}
	if siteName != "" {
		headers["X-Title"] = siteName
	}
	return headers
}
