package roles

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formpilot/internal/schema"
	"formpilot/internal/types"
)

// fakeLLM returns a canned response and records the last prompts.
type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	system   string
	user     string
	role     string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system, f.user = systemPrompt, userPrompt
	f.role = types.CallInfoFrom(ctx).Role
	return f.response, f.err
}

// fakeJSONLLM also implements types.JSONCompleter.
type fakeJSONLLM struct {
	fakeLLM
	schema *types.ResponseSchema
}

func (f *fakeJSONLLM) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, s *types.ResponseSchema) (string, error) {
	f.mu.Lock()
	f.schema = s
	f.mu.Unlock()
	return f.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}

func mustTree(t *testing.T, doc string) *schema.Tree {
	t.Helper()
	tree, err := schema.Parse([]byte(doc))
	require.NoError(t, err)
	return tree
}

func requireMalformed(t *testing.T, err error, role Role) {
	t.Helper()
	require.Error(t, err)
	var callErr *CallError
	require.True(t, errors.As(err, &callErr), "expected *CallError, got %T", err)
	assert.Equal(t, role, callErr.Role)
	assert.True(t, errors.Is(err, ErrMalformedOutput), "expected ErrMalformedOutput, got %v", err)
}

func TestLoadPrompts_AllRoles(t *testing.T) {
	prompts, err := LoadPrompts()
	require.NoError(t, err)
	for _, role := range All {
		p, ok := prompts[role]
		require.True(t, ok, "missing prompt for %s", role)
		assert.NotEmpty(t, p.Description)
	}
}

func TestParsePrompt_Errors(t *testing.T) {
	_, err := ParsePrompt([]byte("system: hi\n"))
	assert.Error(t, err, "role is required")

	_, err = ParsePrompt([]byte("role: x\nsystem: '{{.Broken'\n"))
	assert.Error(t, err)

	_, err = ParsePrompt([]byte("role: [unclosed"))
	assert.Error(t, err)
}

func TestNewLLMSet(t *testing.T) {
	set, err := NewLLMSet(&fakeLLM{})
	require.NoError(t, err)
	require.NoError(t, set.Validate())

	_, err = NewLLMSet(nil)
	assert.Error(t, err)

	assert.Error(t, Set{}.Validate())
}

// =============================================================================
// INTENT
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     IntentOutput
		wantErr  bool
	}{
		{
			name:     "direct reply",
			response: `{"intent":"greeting","to":"user","content":"Hello! Shall we start?"}`,
			want:     IntentOutput{Intent: "greeting", To: "user", Content: "Hello! Shall we start?"},
		},
		{
			name:     "pipeline without content",
			response: `{"intent":"provide_information","to":"pipeline"}`,
			want:     IntentOutput{Intent: "provide_information", To: "pipeline"},
		},
		{
			name:     "fenced and padded",
			response: "```json\n{\"intent\":\"q\",\"to\":\" User \",\"content\":\"sure\"}\n```",
			want:     IntentOutput{Intent: "q", To: "user", Content: "sure"},
		},
		{name: "missing to", response: `{"intent":"x"}`, wantErr: true},
		{name: "direct reply without content", response: `{"intent":"x","to":"user"}`, wantErr: true},
		{name: "not json", response: `I think the user is greeting`, wantErr: true},
		{name: "wrong type", response: `{"intent":"x","to":3}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{response: tt.response}
			c, err := NewLLMIntentClassifier(llm)
			require.NoError(t, err)

			got, err := c.Classify(context.Background(), IntentInput{Utterance: "hi", History: "user: hi"})
			if tt.wantErr {
				requireMalformed(t, err, RoleIntent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.To == "user", got.DirectReply())
			assert.Equal(t, "intent", llm.role)
			assert.Contains(t, llm.system, "user: hi")
			assert.Equal(t, "hi", llm.user)
		})
	}
}

func TestClassify_TransportErrorIsCallError(t *testing.T) {
	c, err := NewLLMIntentClassifier(&fakeLLM{err: errors.New("connection reset")})
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), IntentInput{Utterance: "hi"})
	require.Error(t, err)
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, RoleIntent, callErr.Role)
	assert.False(t, errors.Is(err, ErrMalformedOutput))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestClassify_UsesStructuredOutputWhenAvailable(t *testing.T) {
	llm := &fakeJSONLLM{fakeLLM: fakeLLM{response: `{"intent":"x","to":"pipeline"}`}}
	c, err := NewLLMIntentClassifier(llm)
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), IntentInput{Utterance: "hi"})
	require.NoError(t, err)
	require.NotNil(t, llm.schema)
	assert.Equal(t, "intent_output", llm.schema.Name)
}

// =============================================================================
// EXTRACTION
// =============================================================================

func TestExtract(t *testing.T) {
	llm := &fakeLLM{response: `{"schema": {"name": "Amy", "address": {"city": "", "street": "Main"}}}`}
	e, err := NewLLMFieldExtractor(llm)
	require.NoError(t, err)

	current := mustTree(t, `{"name": "", "address": {"city": "", "street": ""}}`)
	rules := mustTree(t, `{"name": "first name only"}`)

	out, err := e.Extract(context.Background(), ExtractionInput{
		Utterance: "I'm Amy from Main street",
		Schema:    current,
		Rules:     rules,
		History:   "continue from history conversations: ...\nuser: I'm Amy from Main street",
	})
	require.NoError(t, err)

	raw, err := out.Schema.MarshalJSON()
	require.NoError(t, err)
	if diff := cmp.Diff(`{"name":"Amy","address":{"city":"","street":"Main"}}`, string(raw)); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, llm.system, `"street": ""`)
	assert.Contains(t, llm.system, "first name only")
	assert.Equal(t, "extraction", llm.role)
}

func TestExtract_Malformed(t *testing.T) {
	responses := map[string]string{
		"missing schema":   `{"form": {}}`,
		"null schema":      `{"schema": null}`,
		"number leaf":      `{"schema": {"age": 5}}`,
		"array schema":     `{"schema": ["a"]}`,
		"no json at all":   `sorry, I cannot`,
		"schema is string": `{"schema": "name"}`,
	}
	for name, response := range responses {
		t.Run(name, func(t *testing.T) {
			e, err := NewLLMFieldExtractor(&fakeLLM{response: response})
			require.NoError(t, err)
			_, err = e.Extract(context.Background(), ExtractionInput{Schema: schema.New(), Rules: schema.New()})
			requireMalformed(t, err, RoleExtraction)
		})
	}
}

// =============================================================================
// SPECIALIST
// =============================================================================

func TestAssess(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     ClarificationOutcome
		wantNote string
		wantErr  bool
	}{
		{
			name:     "needed",
			response: `{"is_clarification_needed": true, "content": "Did you mean net or gross?"}`,
			want:     ClarificationOutcome{Needed: true, Content: "Did you mean net or gross?"},
			wantNote: "Did you mean net or gross?",
		},
		{
			name:     "not needed",
			response: `{"is_clarification_needed": false, "content": ""}`,
			want:     ClarificationOutcome{},
			wantNote: "None",
		},
		{
			name:     "not needed ignores stray content",
			response: `{"is_clarification_needed": false, "content": "all good"}`,
			want:     ClarificationOutcome{Content: "all good"},
			wantNote: "None",
		},
		{name: "missing flag", response: `{"content": "x"}`, wantErr: true},
		{name: "needed without content", response: `{"is_clarification_needed": true}`, wantErr: true},
		{name: "string flag", response: `{"is_clarification_needed": "yes", "content": "x"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{response: tt.response}
			a, err := NewLLMClarificationAssessor(llm)
			require.NoError(t, err)

			got, err := a.Assess(context.Background(), ClarificationInput{Utterance: "about 5k", History: "user: about 5k"})
			if tt.wantErr {
				requireMalformed(t, err, RoleSpecialist)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantNote, got.Note())
			assert.True(t, strings.HasPrefix(llm.user, "Context: user: about 5k"), llm.user)
		})
	}
}

// =============================================================================
// CONVERSATION
// =============================================================================

func TestCompose(t *testing.T) {
	llm := &fakeLLM{response: `{"content": "What is your street?"}`}
	c, err := NewLLMTurnComposer(llm)
	require.NoError(t, err)

	out, err := c.Compose(context.Background(), ConversationInput{
		Utterance:  "I live in Berlin",
		TargetPath: schema.Path{"address", "street"},
		Rule:       "street and house number",
	})
	require.NoError(t, err)
	assert.Equal(t, "What is your street?", out.Content)
	assert.Contains(t, llm.system, "address --> street")
	assert.Contains(t, llm.system, "street and house number")
	assert.Contains(t, llm.user, "Specialist note: None")
}

func TestCompose_NoRuleOmitsRuleLine(t *testing.T) {
	llm := &fakeLLM{response: `{"content": "Next?"}`}
	c, err := NewLLMTurnComposer(llm)
	require.NoError(t, err)

	_, err = c.Compose(context.Background(), ConversationInput{
		TargetPath:     schema.Path{"name"},
		SpecialistNote: "Clarify the currency",
	})
	require.NoError(t, err)
	assert.NotContains(t, llm.system, "must satisfy")
	assert.Contains(t, llm.user, "Specialist note: Clarify the currency")
}

func TestCompose_Malformed(t *testing.T) {
	for _, response := range []string{`{"content": ""}`, `{"message": "hi"}`, `{"content": 42}`} {
		c, err := NewLLMTurnComposer(&fakeLLM{response: response})
		require.NoError(t, err)
		_, err = c.Compose(context.Background(), ConversationInput{TargetPath: schema.Path{"x"}})
		requireMalformed(t, err, RoleConversation)
	}
}

// =============================================================================
// OUTPUT SCHEMAS
// =============================================================================

func TestOutputSchema_Intent(t *testing.T) {
	s, err := OutputSchema(RoleIntent)
	require.NoError(t, err)

	assert.Equal(t, "object", s.Schema["type"])
	assert.ElementsMatch(t, []interface{}{"intent", "to"}, s.Schema["required"])
	props := s.Schema["properties"].(map[string]interface{})
	to := props["to"].(map[string]interface{})
	assert.ElementsMatch(t, []interface{}{"user", "pipeline"}, to["enum"])
	_, hasSchemaKey := s.Schema["$schema"]
	assert.False(t, hasSchemaKey)
}

func TestOutputSchema_ExtractionTreeIsOpenObject(t *testing.T) {
	s, err := OutputSchema(RoleExtraction)
	require.NoError(t, err)

	props := s.Schema["properties"].(map[string]interface{})
	tree := props["schema"].(map[string]interface{})
	assert.Equal(t, "object", tree["type"])
	additional := tree["additionalProperties"].(map[string]interface{})
	assert.Len(t, additional["anyOf"], 2)
}

func TestOutputSchemas_CoversAllRoles(t *testing.T) {
	all, err := OutputSchemas()
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = OutputSchema(Role("oracle"))
	assert.Error(t, err)
}

func TestCallError(t *testing.T) {
	inner := errors.New("x")
	err := &CallError{Role: RoleSpecialist, Err: inner}
	assert.Equal(t, "specialist role call failed: x", err.Error())
	assert.ErrorIs(t, err, inner)
}
