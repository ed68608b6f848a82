// Package orchestrator runs one conversational turn: classify the
// utterance, fill the form, and ask about the next empty field.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"formpilot/internal/logging"
	"formpilot/internal/roles"
	"formpilot/internal/schema"
)

const (
	// DefaultMaxExtractionIterations bounds the extraction loop.
	DefaultMaxExtractionIterations = 5

	// DefaultCompletionMessage is returned once no field is left empty.
	DefaultCompletionMessage = "The form was successfully filled."
)

// Component labels carried in assistant turn metadata.
const (
	fromIntent       = "intent"
	fromConversation = "conversation"
	fromOrchestrator = "orchestrator"
)

// Orchestrator is safe for concurrent use. It holds no per-turn state.
type Orchestrator struct {
	roles             roles.Set
	maxIterations     int
	completionMessage string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxExtractionIterations overrides the extraction cap. Values below 1
// are ignored.
func WithMaxExtractionIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithCompletionMessage overrides the message returned for a full form.
func WithCompletionMessage(msg string) Option {
	return func(o *Orchestrator) {
		if msg != "" {
			o.completionMessage = msg
		}
	}
}

// New creates an Orchestrator over a complete role set.
func New(set roles.Set, opts ...Option) (*Orchestrator, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		roles:             set,
		maxIterations:     DefaultMaxExtractionIterations,
		completionMessage: DefaultCompletionMessage,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ProcessTurn runs the pipeline for one utterance. It works on private
// copies of the state; on error no partial result is returned.
func (o *Orchestrator) ProcessTurn(ctx context.Context, state State, utterance string) (*TurnResult, error) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "ProcessTurn")
	defer timer.Stop()

	if state.Schema == nil {
		return nil, stageError(StageInput, errors.New("no form schema"))
	}
	current := state.Schema.Clone()
	rules := state.Rules
	if rules == nil {
		rules = schema.New()
	}

	// ===== CLASSIFY =====
	history := make([]Turn, len(state.History), len(state.History)+2)
	copy(history, state.History)
	user := UserTurn(utterance)
	history = append(history, user)
	transcript := RenderHistory(history)

	intent, err := o.roles.Intent.Classify(ctx, roles.IntentInput{Utterance: utterance, History: transcript})
	if err != nil {
		return nil, stageError(StageClassify, err)
	}
	logging.Orchestrator("Intent: %s (to=%s)", intent.Intent, intent.To)

	if intent.DirectReply() {
		reply := AssistantTurn(intent.Content, fromIntent, intent.Intent)
		return &TurnResult{
			Kind:     KindDirectReply,
			Content:  intent.Content,
			Schema:   current,
			Intent:   intent.Intent,
			NewTurns: []Turn{user, reply},
		}, nil
	}

	// ===== PARALLEL_EXTRACT =====
	var (
		filled *schema.Tree
		note   string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tree, err := o.ExtractionLoop(gctx, roles.ExtractionInput{
			Utterance: utterance,
			Schema:    current,
			Rules:     rules,
			History:   transcript,
		})
		if err != nil {
			return stageError(StageExtract, err)
		}
		filled = tree
		return nil
	})
	g.Go(func() error {
		n, err := o.ClarificationCheck(gctx, roles.ClarificationInput{Utterance: utterance, History: transcript})
		if err != nil {
			return stageError(StageClarify, err)
		}
		note = n
		return nil
	})
	if err := g.Wait(); err != nil {
		logging.OrchestratorWarn("Parallel extraction failed: %v", err)
		return nil, stageError(StageExtract, err)
	}

	// ===== CONVERSE =====
	target, ok := schema.FirstUnfilledPath(filled)
	if !ok {
		logging.Orchestrator("All fields are filled")
		return &TurnResult{
			Kind:           KindCompletion,
			Content:        o.completionMessage,
			Schema:         filled,
			SpecialistNote: note,
			Intent:         intent.Intent,
			NewTurns:       []Turn{user, AssistantTurn(o.completionMessage, fromOrchestrator, intent.Intent)},
		}, nil
	}

	rule, _ := schema.FindValidationRule(rules, target)
	out, err := o.roles.Conversation.Compose(ctx, roles.ConversationInput{
		Utterance:      utterance,
		TargetPath:     target,
		Rule:           rule,
		SpecialistNote: note,
	})
	if err != nil {
		return nil, stageError(StageConverse, err)
	}
	logging.Orchestrator("Asking for %s", target)

	return &TurnResult{
		Kind:           KindFollowupQuestion,
		Content:        out.Content,
		Schema:         filled,
		SpecialistNote: note,
		Intent:         intent.Intent,
		TargetPath:     target,
		NewTurns:       []Turn{user, AssistantTurn(out.Content, fromConversation, intent.Intent)},
	}, nil
}

// ExtractionLoop asks the extraction role for updates until the schema
// stops changing or the iteration cap is reached. It returns a new tree;
// in.Schema is not modified. Reaching the cap is not an error.
func (o *Orchestrator) ExtractionLoop(ctx context.Context, in roles.ExtractionInput) (*schema.Tree, error) {
	current := in.Schema.Clone()
	for i := 1; i <= o.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logging.OrchestratorDebug("Extraction iteration %d", i)

		in.Schema = current
		outcome, err := o.roles.Extraction.Extract(ctx, in)
		if err != nil {
			return nil, err
		}
		candidate := outcome.Schema
		if candidate == nil {
			return nil, fmt.Errorf("%w: extraction returned no schema", roles.ErrMalformedOutput)
		}

		if schema.Equal(current, candidate) {
			logging.OrchestratorDebug("Extraction: no new fields after %d call(s)", i)
			return current, nil
		}
		schema.FillFirstUnfilledField(current, candidate)
		schema.ReconcileFields(current, candidate)
		if schema.Equal(current, candidate) {
			logging.OrchestratorDebug("Extraction: caught up after %d call(s)", i)
			return current, nil
		}
	}
	logging.Orchestrator("Extraction: maximum iterations (%d) reached", o.maxIterations)
	return current, nil
}

// ClarificationCheck makes one specialist call and returns the note to
// carry forward, roles.NoSpecialistNote when nothing needs clarifying.
func (o *Orchestrator) ClarificationCheck(ctx context.Context, in roles.ClarificationInput) (string, error) {
	outcome, err := o.roles.Specialist.Assess(ctx, in)
	if err != nil {
		return "", err
	}
	if outcome.Needed {
		logging.Orchestrator("Specialist: clarification needed")
	} else {
		logging.OrchestratorDebug("Specialist: clarification not needed")
	}
	return outcome.Note(), nil
}
