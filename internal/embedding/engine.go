// Package embedding turns text into dense vectors for the similarity store.
// Two backends exist: the Gemini embedding API through google.golang.org/genai
// and a local Ollama server.
package embedding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"formpilot/internal/config"
	"formpilot/internal/logging"
)

// Engine embeds text. EmbedBatch returns vectors in input order.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// HealthChecker is implemented by engines that can probe their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

const defaultDimensions = 768

// Config selects and tunes an engine. Fields of the provider not selected
// are ignored.
type Config struct {
	Provider string `json:"provider"` // genai | ollama

	OllamaEndpoint string `json:"ollama_endpoint"`
	OllamaModel    string `json:"ollama_model"`

	GenAIAPIKey  string `json:"genai_api_key"`
	GenAIModel   string `json:"genai_model"`
	GenAIBaseURL string `json:"genai_base_url,omitempty"`
	TaskType     string `json:"task_type"`

	// OutputDimensions truncates GenAI vectors when > 0.
	OutputDimensions int `json:"output_dimensions,omitempty"`

	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns the GenAI engine with gemini-embedding-001.
func DefaultConfig() Config {
	return Config{
		Provider:       "genai",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
		Timeout:        30 * time.Second,
	}
}

// FromAppConfig maps the embedding section of the application config. The
// one model field goes to whichever provider is selected.
func FromAppConfig(c config.EmbeddingConfig) Config {
	cfg := DefaultConfig()
	if c.Provider != "" {
		cfg.Provider = c.Provider
	}
	if c.OllamaEndpoint != "" {
		cfg.OllamaEndpoint = c.OllamaEndpoint
	}
	if c.TaskType != "" {
		cfg.TaskType = c.TaskType
	}
	cfg.GenAIAPIKey = c.APIKey
	cfg.OutputDimensions = c.Dimensions

	if c.Model == "" {
		return cfg
	}
	if cfg.Provider == "ollama" {
		// The shipped default names a GenAI model; Ollama keeps its own then.
		if c.Model != cfg.GenAIModel {
			cfg.OllamaModel = c.Model
		}
		return cfg
	}
	cfg.GenAIModel = c.Model
	return cfg
}

// ===== FACTORY =====

type engineFactory func(ctx context.Context, cfg Config) (Engine, error)

var factories = map[string]engineFactory{
	"genai": func(ctx context.Context, cfg Config) (Engine, error) {
		return NewGenAIEngine(ctx, cfg)
	},
	"ollama": func(ctx context.Context, cfg Config) (Engine, error) {
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.Timeout)
	},
}

// Providers lists the accepted provider names.
func Providers() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewEngine builds the engine cfg.Provider names.
func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	factory, ok := factories[cfg.Provider]
	if !ok {
		err := fmt.Errorf("unsupported embedding provider %q (want one of %s)", cfg.Provider, strings.Join(Providers(), ", "))
		logging.EmbeddingWarn("%v", err)
		return nil, err
	}
	engine, err := factory(ctx, cfg)
	if err != nil {
		logging.EmbeddingWarn("Failed to create %s embedding engine: %v", cfg.Provider, err)
		return nil, err
	}
	logging.Embedding("Embedding engine ready: %s", engine.Name())
	return engine, nil
}

// Normalize is applied by every engine before embedding: trimmed, lower
// case, newlines folded to spaces.
func Normalize(text string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(text)), "\n", " ")
}

func normalizeAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Normalize(t)
	}
	return out
}
