package perception

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"formpilot/internal/logging"
	"formpilot/internal/types"
)

// RoleTrace captures one role call for later inspection.
type RoleTrace struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`

	// LLM Interaction
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
	Response     string `json:"response"`
	Structured   bool   `json:"structured"`

	DurationMs   int64  `json:"duration_ms"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// TraceStore persists role traces.
type TraceStore interface {
	StoreRoleTrace(trace *RoleTrace) error
}

type modelGetter interface {
	GetModel() string
}

// TracingClient wraps any LLMClient and records every call to a TraceStore.
// Attribution (role, conversation) is read from the call context; see
// types.WithRole and types.WithSessionID.
type TracingClient struct {
	underlying LLMClient
	store      TraceStore
	pending    sync.WaitGroup
}

// NewTracingClient creates a tracing wrapper around an existing client.
func NewTracingClient(underlying LLMClient, store TraceStore) *TracingClient {
	return &TracingClient{
		underlying: underlying,
		store:      store,
	}
}

// Complete implements LLMClient.Complete with tracing.
func (tc *TracingClient) Complete(ctx context.Context, prompt string) (string, error) {
	return tc.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem implements LLMClient.CompleteWithSystem with tracing.
func (tc *TracingClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	response, err := tc.underlying.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	tc.record(ctx, systemPrompt, userPrompt, response, false, start, err)
	return response, err
}

// CompleteJSON forwards to the wrapped client's structured mode when it has
// one, and to CompleteWithSystem otherwise.
func (tc *TracingClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, schema *types.ResponseSchema) (string, error) {
	jc, ok := tc.underlying.(types.JSONCompleter)
	if !ok {
		return tc.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	}
	start := time.Now()
	response, err := jc.CompleteJSON(ctx, systemPrompt, userPrompt, schema)
	tc.record(ctx, systemPrompt, userPrompt, response, true, start, err)
	return response, err
}

// GetModel reports the wrapped client's model, if it exposes one.
func (tc *TracingClient) GetModel() string {
	if mg, ok := tc.underlying.(modelGetter); ok {
		return mg.GetModel()
	}
	return ""
}

// Flush blocks until every queued trace has been written.
func (tc *TracingClient) Flush() {
	tc.pending.Wait()
}

func (tc *TracingClient) record(ctx context.Context, systemPrompt, userPrompt, response string, structured bool, start time.Time, err error) {
	info := types.CallInfoFrom(ctx)
	duration := time.Since(start)
	if err != nil {
		logging.APIDebug("LLM call failed: role=%s session=%s duration=%v error=%v", info.Role, info.SessionID, duration, err)
	} else {
		logging.APIDebug("LLM call completed: role=%s session=%s duration=%v response_len=%d", info.Role, info.SessionID, duration, len(response))
	}

	if tc.store == nil {
		return
	}

	trace := &RoleTrace{
		ID:           uuid.NewString(),
		Role:         info.Role,
		SessionID:    info.SessionID,
		Model:        tc.GetModel(),
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Response:     response,
		Structured:   structured,
		DurationMs:   duration.Milliseconds(),
		Success:      err == nil,
		Timestamp:    start,
	}
	if err != nil {
		trace.ErrorMessage = err.Error()
	}

	// Store asynchronously so tracing never delays a turn.
	tc.pending.Add(1)
	go func() {
		defer tc.pending.Done()
		if storeErr := tc.store.StoreRoleTrace(trace); storeErr != nil {
			logging.APIWarn("Failed to store role trace: %v", storeErr)
		}
	}()
}
