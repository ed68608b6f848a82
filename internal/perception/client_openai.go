package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"formpilot/internal/logging"
	"formpilot/internal/types"
)

// OpenAIClient implements LLMClient and types.JSONCompleter for OpenAI-style
// chat completion APIs.
type OpenAIClient struct {
	provider       Provider
	apiKey         string
	baseURL        string
	model          string
	temperature    float64
	maxTokens      int
	maxRetries     int
	retryBackoff   time.Duration
	rateLimitDelay time.Duration
	headers        map[string]string
	httpClient     *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// errRetryable marks a failed attempt that may succeed if repeated.
var errRetryable = errors.New("retryable")

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		Provider:       ProviderOpenAI,
		APIKey:         apiKey,
		BaseURL:        "https://api.openai.com/v1",
		Model:          "gpt-4o",
		Timeout:        120 * time.Second,
		Temperature:    0.1,
		MaxTokens:      4096,
		MaxRetries:     3,
		RetryBackoff:   time.Second,
		RateLimitDelay: 100 * time.Millisecond,
	}
}

// NewOpenAIClient creates a new OpenAI client with default config.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithConfig(DefaultOpenAIConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a new client with custom config.
func NewOpenAIClientWithConfig(config OpenAIConfig) *OpenAIClient {
	if config.Provider == "" {
		config.Provider = ProviderOpenAI
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &OpenAIClient{
		provider:       config.Provider,
		apiKey:         config.APIKey,
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		model:          config.Model,
		temperature:    config.Temperature,
		maxTokens:      config.MaxTokens,
		maxRetries:     config.MaxRetries,
		retryBackoff:   config.RetryBackoff,
		rateLimitDelay: config.RateLimitDelay,
		headers:        config.Headers,
		httpClient:     &http.Client{Timeout: config.Timeout},
	}
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.model
}

// Complete sends a prompt and returns the completion.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, nil)
}

// CompleteJSON asks for a JSON document. With a schema the request uses
// json_schema response format; without one it uses json_object. Providers
// that reject the format are retried with the next weaker one.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, schema *types.ResponseSchema) (string, error) {
	format := &OpenAIResponseFormat{Type: "json_object"}
	if schema != nil && schema.Schema != nil {
		format = &OpenAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &OpenAIJSONSchema{
				Name:   schema.Name,
				Schema: schema.Schema,
			},
		}
	}
	return c.complete(ctx, systemPrompt, userPrompt, format)
}

func (c *OpenAIClient) complete(ctx context.Context, systemPrompt, userPrompt string, format *OpenAIResponseFormat) (string, error) {
	if c.apiKey == "" {
		logging.APIError("[%s] API key not configured", c.provider)
		return "", fmt.Errorf("API key not configured")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}

	startTime := time.Now()
	logging.APIDebug("[%s] complete: model=%s system_len=%d user_len=%d format=%v",
		c.provider, c.model, len(systemPrompt), len(userPrompt), formatType(format))

	reqBody := OpenAIRequest{
		Model: c.model,
		Messages: []OpenAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:      c.maxTokens,
		Temperature:    c.temperature,
		ResponseFormat: format,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		c.waitForSlot()

		response, status, body, err := c.send(ctx, reqBody)
		if err == nil {
			logging.API("[%s] complete: done in %v response_len=%d", c.provider, time.Since(startTime), len(response))
			return response, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		// Some providers/models reject response_format; degrade and retry.
		if status == http.StatusBadRequest && reqBody.ResponseFormat != nil && mentionsResponseFormat(body) {
			reqBody.ResponseFormat = weakerFormat(reqBody.ResponseFormat)
			logging.APIWarn("[%s] structured output rejected, retrying with format=%v", c.provider, formatType(reqBody.ResponseFormat))
			lastErr = err
			attempt--
			continue
		}
		if !errors.Is(err, errRetryable) {
			logging.APIError("[%s] complete failed: %v", c.provider, err)
			return "", err
		}
		lastErr = err
		logging.APIWarn("[%s] attempt %d failed: %v", c.provider, attempt+1, err)
	}

	logging.APIError("[%s] max retries exceeded after %v: %v", c.provider, time.Since(startTime), lastErr)
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// waitForSlot spaces consecutive requests by rateLimitDelay.
func (c *OpenAIClient) waitForSlot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < c.rateLimitDelay {
		time.Sleep(c.rateLimitDelay - elapsed)
	}
	c.lastRequest = time.Now()
}

// send performs one HTTP round trip. It returns the trimmed completion, or
// the status and raw body alongside an error.
func (c *OpenAIClient) send(ctx context.Context, reqBody OpenAIRequest) (string, int, string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, "", fmt.Errorf("request failed: %v: %w", err, errRetryable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, "", fmt.Errorf("failed to read response: %v: %w", err, errRetryable)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", resp.StatusCode, string(body), fmt.Errorf("rate limit exceeded (429): %w", errRetryable)
	case resp.StatusCode >= 500:
		return "", resp.StatusCode, string(body), fmt.Errorf("server error %d: %s: %w", resp.StatusCode, truncate(string(body), 200), errRetryable)
	case resp.StatusCode != http.StatusOK:
		return "", resp.StatusCode, string(body), fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed OpenAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", resp.StatusCode, string(body), fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", resp.StatusCode, string(body), fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", resp.StatusCode, string(body), fmt.Errorf("no completion returned")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), resp.StatusCode, "", nil
}

func mentionsResponseFormat(body string) bool {
	return strings.Contains(body, "response_format") || strings.Contains(body, "json_schema")
}

func weakerFormat(f *OpenAIResponseFormat) *OpenAIResponseFormat {
	if f != nil && f.Type == "json_schema" {
		return &OpenAIResponseFormat{Type: "json_object"}
	}
	return nil
}

func formatType(f *OpenAIResponseFormat) string {
	if f == nil {
		return "text"
	}
	return f.Type
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
