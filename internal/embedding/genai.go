package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"google.golang.org/genai"
)

// ===== GENAI =====

// genaiTaskTypes are the task types the embedding API accepts.
var genaiTaskTypes = map[string]bool{
	"SEMANTIC_SIMILARITY":  true,
	"CLASSIFICATION":       true,
	"CLUSTERING":           true,
	"RETRIEVAL_DOCUMENT":   true,
	"RETRIEVAL_QUERY":      true,
	"CODE_RETRIEVAL_QUERY": true,
	"QUESTION_ANSWERING":   true,
	"FACT_VERIFICATION":    true,
}

// GenAIEngine embeds through the Gemini embedding API.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
	embedCfg *genai.EmbedContentConfig
	dims     atomic.Int64
}

// NewGenAIEngine builds the engine. Unknown task types fall back to
// SEMANTIC_SIMILARITY.
func NewGenAIEngine(ctx context.Context, cfg Config) (*GenAIEngine, error) {
	if cfg.GenAIAPIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	model := cfg.GenAIModel
	if model == "" {
		model = "gemini-embedding-001"
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GenAIAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.GenAIBaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.GenAIBaseURL
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	task := strings.ToUpper(strings.TrimSpace(cfg.TaskType))
	if !genaiTaskTypes[task] {
		task = "SEMANTIC_SIMILARITY"
	}

	embedCfg := &genai.EmbedContentConfig{TaskType: task}
	if cfg.OutputDimensions > 0 {
		n := int32(cfg.OutputDimensions)
		embedCfg.OutputDimensionality = &n
	}
	return &GenAIEngine{client: client, model: model, taskType: task, embedCfg: embedCfg}, nil
}

// Embed returns the vector of one text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch returns one vector per text from a single request.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range normalizeAll(texts) {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, e.embedCfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("GenAI returned an empty embedding at index %d", i)
		}
		embeddings[i] = emb.Values
	}
	e.dims.Store(int64(len(embeddings[0])))
	return embeddings, nil
}

// Dimensions is the length of the last vector returned. Before the first
// call it is the configured output size, or 768.
func (e *GenAIEngine) Dimensions() int {
	if d := e.dims.Load(); d > 0 {
		return int(d)
	}
	if n := e.embedCfg.OutputDimensionality; n != nil {
		return int(*n)
	}
	return defaultDimensions
}

// Name identifies the engine and model.
func (e *GenAIEngine) Name() string { return "genai:" + e.model }
