// Package roles defines the four reasoning roles a turn is built from and
// their LLM-backed implementations.
//
// Every role is one call to the reasoning service with a fixed input record
// and a fixed, strictly decoded output record. Any transport error or
// undecodable payload surfaces as a *CallError.
package roles

import (
	"context"
	"errors"
	"fmt"

	"formpilot/internal/schema"
)

// Role names one of the four reasoning roles.
type Role string

const (
	RoleIntent       Role = "intent"
	RoleExtraction   Role = "extraction"
	RoleSpecialist   Role = "specialist"
	RoleConversation Role = "conversation"
)

// All lists the roles in pipeline order.
var All = []Role{RoleIntent, RoleExtraction, RoleSpecialist, RoleConversation}

// NoSpecialistNote is carried forward when the specialist sees nothing to
// clarify.
const NoSpecialistNote = "None"

// Intent routing targets.
const (
	RouteUser     = "user"
	RoutePipeline = "pipeline"
)

// ErrMalformedOutput marks a role response that is not the expected record.
var ErrMalformedOutput = errors.New("malformed role output")

// CallError is returned by every role when its call fails.
type CallError struct {
	Role Role
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s role call failed: %v", e.Role, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// =============================================================================
// RECORDS
// =============================================================================

// IntentInput is the intent role's input.
type IntentInput struct {
	Utterance string
	History   string // rendered conversation, including Utterance
}

// IntentOutput routes the turn.
type IntentOutput struct {
	Intent  string `json:"intent" jsonschema:"description=Short snake_case label for the message"`
	To      string `json:"to" jsonschema:"enum=user,enum=pipeline"`
	Content string `json:"content,omitempty" jsonschema:"description=Direct reply when to is user"`
}

// DirectReply reports whether the turn is answered without extraction.
func (o IntentOutput) DirectReply() bool { return o.To == RouteUser }

// ExtractionInput is the extraction role's input.
type ExtractionInput struct {
	Utterance string
	Schema    *schema.Tree
	Rules     *schema.Tree
	History   string
}

// ExtractionOutcome carries the candidate schema.
type ExtractionOutcome struct {
	Schema *schema.Tree `json:"schema"`
}

// ClarificationInput is the specialist role's input.
type ClarificationInput struct {
	Utterance string
	History   string
}

// ClarificationOutcome is the specialist's verdict.
type ClarificationOutcome struct {
	Needed  bool   `json:"is_clarification_needed"`
	Content string `json:"content"`
}

// Note returns the specialist note to carry into the conversation role.
func (o ClarificationOutcome) Note() string {
	if o.Needed {
		return o.Content
	}
	return NoSpecialistNote
}

// ConversationInput is the conversation role's input.
type ConversationInput struct {
	Utterance      string
	TargetPath     schema.Path
	Rule           string
	SpecialistNote string
}

// ConversationOutput is the next message to the user.
type ConversationOutput struct {
	Content string `json:"content"`
}

// =============================================================================
// ROLE CONTRACTS
// =============================================================================

// IntentClassifier decides between a direct reply and the form pipeline.
type IntentClassifier interface {
	Classify(ctx context.Context, in IntentInput) (IntentOutput, error)
}

// FieldExtractor proposes a filled-in schema.
type FieldExtractor interface {
	Extract(ctx context.Context, in ExtractionInput) (ExtractionOutcome, error)
}

// ClarificationAssessor decides whether the user needs a clarifying remark.
type ClarificationAssessor interface {
	Assess(ctx context.Context, in ClarificationInput) (ClarificationOutcome, error)
}

// TurnComposer writes the next question for a target field.
type TurnComposer interface {
	Compose(ctx context.Context, in ConversationInput) (ConversationOutput, error)
}

// Set bundles one implementation of each role.
type Set struct {
	Intent       IntentClassifier
	Extraction   FieldExtractor
	Specialist   ClarificationAssessor
	Conversation TurnComposer
}

// Validate reports a missing role.
func (s Set) Validate() error {
	switch {
	case s.Intent == nil:
		return fmt.Errorf("roles: %s role not configured", RoleIntent)
	case s.Extraction == nil:
		return fmt.Errorf("roles: %s role not configured", RoleExtraction)
	case s.Specialist == nil:
		return fmt.Errorf("roles: %s role not configured", RoleSpecialist)
	case s.Conversation == nil:
		return fmt.Errorf("roles: %s role not configured", RoleConversation)
	}
	return nil
}
