package roles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"formpilot/internal/logging"
	"formpilot/internal/perception"
	"formpilot/internal/schema"
	"formpilot/internal/types"
)

// =============================================================================
// LLM-BACKED ROLES
// =============================================================================

// llmRole is the shared call path: render the prompt, ask for JSON, return
// the extracted payload.
type llmRole struct {
	role   Role
	client types.LLMClient
	prompt *Prompt
	schema *types.ResponseSchema
}

func newLLMRole(role Role, client types.LLMClient) (*llmRole, error) {
	if client == nil {
		return nil, fmt.Errorf("roles: %s role needs an LLM client", role)
	}
	prompts, err := LoadPrompts()
	if err != nil {
		return nil, err
	}
	out, err := OutputSchema(role)
	if err != nil {
		return nil, err
	}
	return &llmRole{role: role, client: client, prompt: prompts[role], schema: out}, nil
}

func (r *llmRole) fail(err error) error {
	logging.RolesWarn("%s role failed: %v", r.role, err)
	return &CallError{Role: r.role, Err: err}
}

func (r *llmRole) call(ctx context.Context, data interface{}) ([]byte, error) {
	systemPrompt, userPrompt, err := r.prompt.Render(data)
	if err != nil {
		return nil, r.fail(err)
	}

	ctx = types.WithRole(ctx, string(r.role))
	timer := logging.StartTimer(logging.CategoryRoles, string(r.role))
	defer timer.Stop()

	var raw string
	if jc, ok := r.client.(types.JSONCompleter); ok {
		raw, err = jc.CompleteJSON(ctx, systemPrompt, userPrompt, r.schema)
	} else {
		raw, err = r.client.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	}
	if err != nil {
		return nil, r.fail(err)
	}

	payload := perception.ExtractJSON(raw)
	if payload == "" {
		return nil, r.fail(fmt.Errorf("%w: no JSON object in response", ErrMalformedOutput))
	}
	logging.RolesDebug("%s role payload_len=%d", r.role, len(payload))
	return []byte(payload), nil
}

// decodeStrict decodes a payload into a wire record, rejecting trailing data.
func decodeStrict(payload []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after object", ErrMalformedOutput)
	}
	return nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedOutput, fmt.Sprintf(format, args...))
}

// NewLLMSet builds all four roles on one client.
func NewLLMSet(client types.LLMClient) (*Set, error) {
	intent, err := NewLLMIntentClassifier(client)
	if err != nil {
		return nil, err
	}
	extraction, err := NewLLMFieldExtractor(client)
	if err != nil {
		return nil, err
	}
	specialist, err := NewLLMClarificationAssessor(client)
	if err != nil {
		return nil, err
	}
	conversation, err := NewLLMTurnComposer(client)
	if err != nil {
		return nil, err
	}
	return &Set{
		Intent:       intent,
		Extraction:   extraction,
		Specialist:   specialist,
		Conversation: conversation,
	}, nil
}

// ----- intent -----

// LLMIntentClassifier implements IntentClassifier.
type LLMIntentClassifier struct{ base *llmRole }

// NewLLMIntentClassifier creates the intent role.
func NewLLMIntentClassifier(client types.LLMClient) (*LLMIntentClassifier, error) {
	base, err := newLLMRole(RoleIntent, client)
	if err != nil {
		return nil, err
	}
	return &LLMIntentClassifier{base: base}, nil
}

// Classify routes the utterance.
func (c *LLMIntentClassifier) Classify(ctx context.Context, in IntentInput) (IntentOutput, error) {
	payload, err := c.base.call(ctx, in)
	if err != nil {
		return IntentOutput{}, err
	}

	var wire struct {
		Intent  *string `json:"intent"`
		To      *string `json:"to"`
		Content *string `json:"content"`
	}
	if err := decodeStrict(payload, &wire); err != nil {
		return IntentOutput{}, c.base.fail(err)
	}
	if wire.Intent == nil || wire.To == nil {
		return IntentOutput{}, c.base.fail(malformed("intent and to are required"))
	}

	out := IntentOutput{Intent: *wire.Intent, To: strings.ToLower(strings.TrimSpace(*wire.To))}
	if wire.Content != nil {
		out.Content = *wire.Content
	}
	if out.To == "" {
		return IntentOutput{}, c.base.fail(malformed("empty routing target"))
	}
	if out.DirectReply() && strings.TrimSpace(out.Content) == "" {
		return IntentOutput{}, c.base.fail(malformed("direct reply without content"))
	}
	logging.Roles("Intent: %s -> %s", out.Intent, out.To)
	return out, nil
}

// ----- extraction -----

// LLMFieldExtractor implements FieldExtractor.
type LLMFieldExtractor struct{ base *llmRole }

// NewLLMFieldExtractor creates the extraction role.
func NewLLMFieldExtractor(client types.LLMClient) (*LLMFieldExtractor, error) {
	base, err := newLLMRole(RoleExtraction, client)
	if err != nil {
		return nil, err
	}
	return &LLMFieldExtractor{base: base}, nil
}

type extractionPromptData struct {
	Utterance string
	History   string
	Form      string
	Rules     string
}

// Extract asks for a filled-in copy of the schema.
func (e *LLMFieldExtractor) Extract(ctx context.Context, in ExtractionInput) (ExtractionOutcome, error) {
	payload, err := e.base.call(ctx, extractionPromptData{
		Utterance: in.Utterance,
		History:   in.History,
		Form:      in.Schema.Indented(),
		Rules:     in.Rules.Indented(),
	})
	if err != nil {
		return ExtractionOutcome{}, err
	}

	var wire struct {
		Schema json.RawMessage `json:"schema"`
	}
	if err := decodeStrict(payload, &wire); err != nil {
		return ExtractionOutcome{}, e.base.fail(err)
	}
	if len(wire.Schema) == 0 || string(wire.Schema) == "null" {
		return ExtractionOutcome{}, e.base.fail(malformed("schema is required"))
	}
	tree, err := schema.Parse(wire.Schema)
	if err != nil {
		return ExtractionOutcome{}, e.base.fail(fmt.Errorf("%w: %v", ErrMalformedOutput, err))
	}
	return ExtractionOutcome{Schema: tree}, nil
}

// ----- specialist -----

// LLMClarificationAssessor implements ClarificationAssessor.
type LLMClarificationAssessor struct{ base *llmRole }

// NewLLMClarificationAssessor creates the specialist role.
func NewLLMClarificationAssessor(client types.LLMClient) (*LLMClarificationAssessor, error) {
	base, err := newLLMRole(RoleSpecialist, client)
	if err != nil {
		return nil, err
	}
	return &LLMClarificationAssessor{base: base}, nil
}

// Assess asks whether the utterance needs clarification.
func (a *LLMClarificationAssessor) Assess(ctx context.Context, in ClarificationInput) (ClarificationOutcome, error) {
	payload, err := a.base.call(ctx, in)
	if err != nil {
		return ClarificationOutcome{}, err
	}

	var wire struct {
		Needed  *bool   `json:"is_clarification_needed"`
		Content *string `json:"content"`
	}
	if err := decodeStrict(payload, &wire); err != nil {
		return ClarificationOutcome{}, a.base.fail(err)
	}
	if wire.Needed == nil {
		return ClarificationOutcome{}, a.base.fail(malformed("is_clarification_needed is required"))
	}

	out := ClarificationOutcome{Needed: *wire.Needed}
	if wire.Content != nil {
		out.Content = *wire.Content
	}
	if out.Needed && strings.TrimSpace(out.Content) == "" {
		return ClarificationOutcome{}, a.base.fail(malformed("clarification needed without content"))
	}
	return out, nil
}

// ----- conversation -----

// LLMTurnComposer implements TurnComposer.
type LLMTurnComposer struct{ base *llmRole }

// NewLLMTurnComposer creates the conversation role.
func NewLLMTurnComposer(client types.LLMClient) (*LLMTurnComposer, error) {
	base, err := newLLMRole(RoleConversation, client)
	if err != nil {
		return nil, err
	}
	return &LLMTurnComposer{base: base}, nil
}

type conversationPromptData struct {
	Utterance      string
	Field          string
	Rule           string
	SpecialistNote string
}

// Compose writes the next question.
func (c *LLMTurnComposer) Compose(ctx context.Context, in ConversationInput) (ConversationOutput, error) {
	note := in.SpecialistNote
	if note == "" {
		note = NoSpecialistNote
	}
	payload, err := c.base.call(ctx, conversationPromptData{
		Utterance:      in.Utterance,
		Field:          in.TargetPath.String(),
		Rule:           in.Rule,
		SpecialistNote: note,
	})
	if err != nil {
		return ConversationOutput{}, err
	}

	var wire struct {
		Content *string `json:"content"`
	}
	if err := decodeStrict(payload, &wire); err != nil {
		return ConversationOutput{}, c.base.fail(err)
	}
	if wire.Content == nil || strings.TrimSpace(*wire.Content) == "" {
		return ConversationOutput{}, c.base.fail(malformed("content is required"))
	}
	return ConversationOutput{Content: *wire.Content}, nil
}
