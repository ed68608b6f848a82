package types

import (
	"context"
)

// LLMClient defines the interface for LLM interactions.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// JSONCompleter is implemented by clients that can constrain output to a
// JSON document, optionally matching a schema. Callers type-assert for it
// and fall back to CompleteWithSystem plus payload extraction otherwise.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, schema *ResponseSchema) (string, error)
}

// ResponseSchema names a JSON Schema document for structured output.
type ResponseSchema struct {
	Name   string                 `json:"name"`
	Schema map[string]interface{} `json:"schema"`
}
