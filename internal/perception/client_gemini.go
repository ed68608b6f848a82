package perception

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"formpilot/internal/logging"
	"formpilot/internal/types"
)

// GeminiClient implements LLMClient and types.JSONCompleter on the Google
// GenAI SDK.
type GeminiClient struct {
	client          *genai.Client
	model           string
	timeout         time.Duration
	temperature     float32
	maxOutputTokens int32
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		Model:           "gemini-2.5-flash",
		Timeout:         120 * time.Second,
		Temperature:     0.1,
		MaxOutputTokens: 8192,
	}
}

// NewGeminiClient creates a Gemini client. baseURL overrides the API
// endpoint and is normally empty.
func NewGeminiClient(ctx context.Context, config GeminiConfig, baseURL string) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientConfig.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:          client,
		model:           config.Model,
		timeout:         config.Timeout,
		temperature:     float32(config.Temperature),
		maxOutputTokens: int32(config.MaxOutputTokens),
	}, nil
}

// GetModel returns the configured model name.
func (c *GeminiClient) GetModel() string {
	return c.model
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.generate(ctx, systemPrompt, userPrompt, c.baseConfig(systemPrompt))
}

// CompleteJSON requests application/json output, constrained by schema when
// one is given.
func (c *GeminiClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, schema *types.ResponseSchema) (string, error) {
	cfg := c.baseConfig(systemPrompt)
	cfg.ResponseMIMEType = "application/json"
	if schema != nil && schema.Schema != nil {
		cfg.ResponseJsonSchema = schema.Schema
	}
	return c.generate(ctx, systemPrompt, userPrompt, cfg)
}

func (c *GeminiClient) baseConfig(systemPrompt string) *genai.GenerateContentConfig {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(c.temperature),
	}
	if c.maxOutputTokens > 0 {
		cfg.MaxOutputTokens = c.maxOutputTokens
	}
	return cfg
}

func (c *GeminiClient) generate(ctx context.Context, systemPrompt, userPrompt string, cfg *genai.GenerateContentConfig) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[gemini] generate: model=%s system_len=%d user_len=%d mime=%q",
		c.model, len(systemPrompt), len(userPrompt), cfg.ResponseMIMEType)

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		logging.APIError("[gemini] generate failed after %v: %v", time.Since(startTime), err)
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	logging.API("[gemini] generate: done in %v response_len=%d", time.Since(startTime), len(text))
	return text, nil
}
