package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formpilot/internal/config"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Hello World  ", "hello world"},
		{"Line one\nLine two", "line one line two"},
		{"\n\nTRIM\n", "trim"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestFromAppConfig(t *testing.T) {
	defaults := config.DefaultConfig().Embedding

	cfg := FromAppConfig(defaults)
	assert.Equal(t, "genai", cfg.Provider)
	assert.Equal(t, "gemini-embedding-001", cfg.GenAIModel)
	assert.Equal(t, "SEMANTIC_SIMILARITY", cfg.TaskType)

	ollama := defaults
	ollama.Provider = "ollama"
	cfg = FromAppConfig(ollama)
	assert.Equal(t, "embeddinggemma", cfg.OllamaModel, "GenAI default model must not leak into Ollama")

	ollama.Model = "nomic-embed-text"
	cfg = FromAppConfig(ollama)
	assert.Equal(t, "nomic-embed-text", cfg.OllamaModel)
}

func TestNewEngine_Errors(t *testing.T) {
	_, err := NewEngine(context.Background(), Config{Provider: "word2vec"})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.GenAIAPIKey = ""
	_, err = NewEngine(context.Background(), cfg)
	assert.Error(t, err)
}

// =============================================================================
// OLLAMA
// =============================================================================

func TestOllamaEngine_Embed(t *testing.T) {
	requests := make(chan ollamaEmbedRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req ollamaEmbedRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			requests <- req
			vecs := make([][]float32, len(req.Input))
			for i := range req.Input {
				vecs[i] = []float32{float32(i), 0.2, 0.3}
			}
			assert.NoError(t, json.NewEncoder(w).Encode(ollamaEmbedResponse{Model: req.Model, Embeddings: vecs}))
		case "/api/tags":
			fmt.Fprint(w, `{"models":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	engine, err := NewEngine(context.Background(), Config{Provider: "ollama", OllamaEndpoint: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, "ollama:embeddinggemma", engine.Name())
	assert.Equal(t, 768, engine.Dimensions())

	vec, err := engine.Embed(context.Background(), "  Hello\nWorld ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.2, 0.3}, vec)
	req := <-requests
	assert.Equal(t, "embeddinggemma", req.Model)
	assert.Equal(t, []string{"hello world"}, req.Input)
	assert.Equal(t, 3, engine.Dimensions())

	batch, err := engine.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 0.2, 0.3}, {1, 0.2, 0.3}}, batch)
	assert.Equal(t, []string{"a", "b"}, (<-requests).Input, "one request per batch")

	empty, err := engine.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	hc, ok := engine.(HealthChecker)
	require.True(t, ok)
	assert.NoError(t, hc.HealthCheck(context.Background()))
}

func TestOllamaEngine_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embeddings":[[1,2]]}`)
	}))
	defer srv.Close()

	engine, err := NewOllamaEngine(srv.URL, "", 0)
	require.NoError(t, err)
	_, err = engine.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 embeddings for 2 texts")
}

func TestOllamaEngine_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	engine, err := NewOllamaEngine(srv.URL, "missing", 0)
	require.NoError(t, err)

	_, err = engine.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	assert.Error(t, engine.HealthCheck(context.Background()))
}

// =============================================================================
// GENAI
// =============================================================================

func TestGenAIEngine_EmbedBatch(t *testing.T) {
	bodies := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-embedding-001:batchEmbedContents"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		assert.NoError(t, json.Unmarshal(raw, &body))
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"embeddings":[{"values":[1,0]},{"values":[0,1]}]}`)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.GenAIAPIKey = "test-key"
	cfg.GenAIBaseURL = srv.URL + "/"
	cfg.TaskType = "retrieval_document"

	engine, err := NewGenAIEngine(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "RETRIEVAL_DOCUMENT", engine.taskType)

	vecs, err := engine.EmbedBatch(context.Background(), []string{"First\nDoc", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 2, engine.Dimensions())

	body := <-bodies
	requests, ok := body["requests"].([]interface{})
	require.True(t, ok, "missing requests in %v", body)
	require.Len(t, requests, 2)
	raw, _ := json.Marshal(requests[0])
	assert.Contains(t, string(raw), "first doc")
}

func TestGenAIEngine_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"embeddings":[]}`)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.GenAIAPIKey = "test-key"
	cfg.GenAIBaseURL = srv.URL + "/"
	engine, err := NewGenAIEngine(context.Background(), cfg)
	require.NoError(t, err)

	_, err = engine.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestGenAIEngine_OutputDimensions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GenAIAPIKey = "test-key"
	cfg.OutputDimensions = 256

	engine, err := NewGenAIEngine(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 256, engine.Dimensions())
	assert.Equal(t, "genai:gemini-embedding-001", engine.Name())
}

func TestProviders(t *testing.T) {
	assert.Equal(t, []string{"genai", "ollama"}, Providers())

	app := config.DefaultConfig().Embedding
	app.Dimensions = 512
	assert.Equal(t, 512, FromAppConfig(app).OutputDimensions)
}
