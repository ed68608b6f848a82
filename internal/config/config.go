package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all formpilot configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Reasoning provider used by every role
	LLM LLMConfig `yaml:"llm"`

	// Form template and validation rules
	Form FormConfig `yaml:"form"`

	// Turn pipeline tuning
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// SQLite persistence
	Memory MemoryConfig `yaml:"memory"`

	// Embedding engine for the vector store
	Embedding EmbeddingConfig `yaml:"embedding"`

	// HTTP surface
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Role-call traces
	Tracing TracingConfig `yaml:"tracing"`
}

// FormConfig points at the form definition files.
type FormConfig struct {
	TemplatePath string `yaml:"template_path"`
	RulesPath    string `yaml:"rules_path"`
	Watch        bool   `yaml:"watch"` // reload on change
}

// OrchestratorConfig tunes the turn pipeline.
type OrchestratorConfig struct {
	MaxExtractionIterations int    `yaml:"max_extraction_iterations"`
	CompletionMessage       string `yaml:"completion_message"`
}

// MemoryConfig configures the SQLite store.
type MemoryConfig struct {
	DatabasePath string `yaml:"database_path"`
	HistoryLimit int    `yaml:"history_limit"` // 0 = unlimited
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // genai, ollama
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	TaskType       string `yaml:"task_type"`
	Dimensions     int    `yaml:"dimensions"` // 0 = model default
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	ReadTimeout  string   `yaml:"read_timeout"`
	WriteTimeout string   `yaml:"write_timeout"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// TracingConfig toggles persistence of role-call traces.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "formpilot",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			BaseURL:     "https://api.openai.com/v1",
			Timeout:     "120s",
			MaxTokens:   4096,
			Temperature: 0.1,
			MaxRetries:  3,
		},

		Form: FormConfig{
			TemplatePath: "forms/form.json",
			RulesPath:    "forms/form_val.json",
		},

		Orchestrator: OrchestratorConfig{
			MaxExtractionIterations: 5,
			CompletionMessage:       "The form was successfully filled.",
		},

		Memory: MemoryConfig{
			DatabasePath: "data/formpilot.db",
		},

		Embedding: EmbeddingConfig{
			Provider:       "genai",
			Model:          "gemini-embedding-001",
			OllamaEndpoint: "http://localhost:11434",
			TaskType:       "SEMANTIC_SIMILARITY",
		},

		Server: ServerConfig{
			Addr:         ":8000",
			ReadTimeout:  "30s",
			WriteTimeout: "300s",
			CORSOrigins:  []string{"*"},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// LLM API key from environment (later entries win)
	if key := os.Getenv("ZAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "zai"
		}
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openrouter"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.LLM.Provider == "gemini" || c.LLM.APIKey == "" {
			c.LLM.APIKey = key
			c.LLM.Provider = "gemini"
		}
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}

	if path := os.Getenv("FORMPILOT_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if addr := os.Getenv("FORMPILOT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("FORMPILOT_FORM_TEMPLATE"); path != "" {
		c.Form.TemplatePath = path
	}
	if path := os.Getenv("FORMPILOT_FORM_RULES"); path != "" {
		c.Form.RulesPath = path
	}
	if v := os.Getenv("FORMPILOT_TRACING"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = enabled
		}
	}
	if level := os.Getenv("FORMPILOT_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
}

// GetReadTimeout returns the HTTP read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the HTTP write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 300*time.Second)
}

// GetMaxExtractionIterations returns the extraction cap, never below 1.
func (c *Config) GetMaxExtractionIterations() int {
	if c.Orchestrator.MaxExtractionIterations < 1 {
		return 5
	}
	return c.Orchestrator.MaxExtractionIterations
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "gemini", "zai", "openrouter"}

// ValidEmbeddingProviders lists all supported embedding engines.
var ValidEmbeddingProviders = []string{"genai", "ollama"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY, GEMINI_API_KEY, ZAI_API_KEY, or OPENROUTER_API_KEY)")
	}
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.Embedding.Provider != "" && !contains(ValidEmbeddingProviders, c.Embedding.Provider) {
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider, ValidEmbeddingProviders)
	}
	if c.Form.TemplatePath == "" {
		return fmt.Errorf("form template path not configured")
	}
	if c.Orchestrator.MaxExtractionIterations < 0 {
		return fmt.Errorf("max_extraction_iterations must not be negative, got %d", c.Orchestrator.MaxExtractionIterations)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
