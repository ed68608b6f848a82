package orchestrator

import (
	"strings"

	"formpilot/internal/schema"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// historyPreamble opens every rendered history.
const historyPreamble = "continue from history conversations: ...\n"

// Turn is one message of a conversation.
type Turn struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UserTurn builds a user turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds an assistant turn attributed to the component that
// produced it.
func AssistantTurn(content, from, intent string) Turn {
	meta := map[string]string{"from": from}
	if intent != "" {
		meta["intent"] = intent
	}
	return Turn{Role: RoleAssistant, Content: content, Metadata: meta}
}

// RenderHistory renders turns as the plain-text transcript the roles read.
func RenderHistory(history []Turn) string {
	var sb strings.Builder
	sb.WriteString(historyPreamble)
	for i, turn := range history {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(turn.Role)
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
	}
	return sb.String()
}

// State is everything a turn reads. The caller loads it; ProcessTurn never
// mutates it.
type State struct {
	History []Turn
	Schema  *schema.Tree
	Rules   *schema.Tree
}

// Kind classifies a TurnResult.
type Kind string

const (
	KindDirectReply      Kind = "direct_reply"
	KindFollowupQuestion Kind = "followup_question"
	KindCompletion       Kind = "completion"
)

// TurnResult is the externally visible outcome of one turn.
type TurnResult struct {
	Kind           Kind         `json:"kind"`
	Content        string       `json:"content"`
	Schema         *schema.Tree `json:"schema"`
	SpecialistNote string       `json:"specialist_note,omitempty"`
	Intent         string       `json:"intent"`
	TargetPath     schema.Path  `json:"target_path,omitempty"`

	// NewTurns holds the user utterance and the assistant reply, in order,
	// for the caller to persist.
	NewTurns []Turn `json:"-"`
}
