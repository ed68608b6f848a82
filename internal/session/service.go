// Package session owns the lifecycle of a conversation around the turn
// pipeline: it loads state, runs one turn at a time per conversation and
// persists the outcome.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"formpilot/internal/logging"
	"formpilot/internal/orchestrator"
	"formpilot/internal/schema"
	"formpilot/internal/store"
	"formpilot/internal/types"
)

// ErrEmptyMessage rejects a turn with nothing to say.
var ErrEmptyMessage = errors.New("message must not be empty")

// Store is the persistence the service needs. *store.LocalStore
// implements it.
type Store interface {
	History(ctx context.Context, id uuid.UUID, limit int) ([]orchestrator.Turn, error)
	LatestForm(ctx context.Context, id uuid.UUID) (*schema.Tree, bool, error)
	SaveTurn(ctx context.Context, id uuid.UUID, form *schema.Tree, msg store.Message) error

	CreateSession(ctx context.Context, id uuid.UUID, form *schema.Tree) error
	UpsertSession(ctx context.Context, id uuid.UUID, form *schema.Tree) error
	UpdateSession(ctx context.Context, id uuid.UUID, form *schema.Tree) error
	GetSession(ctx context.Context, id uuid.UUID) (*store.Session, error)
	ListSessions(ctx context.Context) ([]store.Session, error)
	Messages(ctx context.Context, id uuid.UUID, allowMissing bool) ([]store.Message, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// FormSource supplies the template for new conversations and the
// validation rules. *formdef.Loader implements it.
type FormSource interface {
	Template() *schema.Tree
	Rules() *schema.Tree
}

// TurnProcessor runs one turn. *orchestrator.Orchestrator implements it.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error)
}

// Reply is the outcome of Chat.
type Reply struct {
	SessionID      uuid.UUID         `json:"session_id"`
	MessageID      uuid.UUID         `json:"message_id"`
	Response       string            `json:"response"`
	Form           *schema.Tree      `json:"form"`
	Kind           orchestrator.Kind `json:"kind"`
	Intent         string            `json:"intent,omitempty"`
	TargetPath     schema.Path       `json:"target_path,omitempty"`
	SpecialistNote string            `json:"specialist_note,omitempty"`

	// Persisted is false when the turn succeeded but could not be saved.
	Persisted bool `json:"persisted"`
}

// Service runs conversations.
type Service struct {
	store        Store
	forms        FormSource
	turns        TurnProcessor
	locks        *turnLocks
	historyLimit int
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHistoryLimit keeps only the last n exchanges in a turn's history;
// n <= 0 keeps everything.
func WithHistoryLimit(n int) Option {
	return func(s *Service) { s.historyLimit = n }
}

// WithClock overrides the time source used for message ids.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires a Service.
func NewService(st Store, forms FormSource, turns TurnProcessor, opts ...Option) *Service {
	s := &Service{
		store: st,
		forms: forms,
		turns: turns,
		locks: newTurnLocks(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat runs one turn of a conversation. Turns of the same conversation run
// one at a time. On a turn error nothing is persisted; a persistence error
// after a successful turn is logged and reported through Reply.Persisted.
func (s *Service) Chat(ctx context.Context, sessionID uuid.UUID, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	timer := logging.StartTimer(logging.CategorySession, "Chat")
	defer timer.Stop()

	ctx = types.WithSessionID(ctx, sessionID.String())
	unlock, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// ===== LOAD =====
	history, err := s.store.History(ctx, sessionID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	form, ok, err := s.store.LatestForm(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load form: %w", err)
	}
	if !ok {
		logging.SessionDebug("Session %s has no form yet, starting from the template", sessionID)
		form = s.forms.Template()
	}

	// ===== TURN =====
	result, err := s.turns.ProcessTurn(ctx, orchestrator.State{
		History: history,
		Schema:  form,
		Rules:   s.forms.Rules(),
	}, message)
	if err != nil {
		logging.SessionError("Turn failed for session %s: %v", sessionID, err)
		return nil, err
	}

	// ===== PERSIST =====
	reply := &Reply{
		SessionID:      sessionID,
		MessageID:      MessageID(sessionID, s.now()),
		Response:       result.Content,
		Form:           result.Schema,
		Kind:           result.Kind,
		Intent:         result.Intent,
		TargetPath:     result.TargetPath,
		SpecialistNote: result.SpecialistNote,
	}
	msg := store.Message{ID: reply.MessageID, SessionID: sessionID, Prompt: message, Response: result.Content}
	if err := s.store.SaveTurn(ctx, sessionID, result.Schema, msg); err != nil {
		logging.SessionWarn("Failed to persist turn for session %s: %v", sessionID, err)
	} else {
		reply.Persisted = true
	}

	logging.Session("Session %s turn complete (kind=%s)", sessionID, result.Kind)
	return reply, nil
}

// CreateSession starts a conversation on the template form. An existing
// conversation is left as it is.
func (s *Service) CreateSession(ctx context.Context, id uuid.UUID) (*store.Session, error) {
	if err := s.store.CreateSession(ctx, id, s.forms.Template()); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, id)
}

// ResetSession drops a conversation's messages and restarts its form from
// the template.
func (s *Service) ResetSession(ctx context.Context, id uuid.UUID) (*store.Session, error) {
	unlock, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return nil, err
	}
	logging.Session("Session %s reset", id)
	return s.CreateSession(ctx, id)
}

// GetSession loads a conversation's form snapshot.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*store.Session, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions lists every conversation.
func (s *Service) ListSessions(ctx context.Context) ([]store.Session, error) {
	return s.store.ListSessions(ctx)
}

// Messages lists a conversation's exchanges, oldest first.
func (s *Service) Messages(ctx context.Context, id uuid.UUID) ([]store.Message, error) {
	return s.store.Messages(ctx, id, false)
}

// UpdateForm replaces a conversation's form. Without createIfMissing an
// unknown conversation is store.ErrSessionNotFound.
func (s *Service) UpdateForm(ctx context.Context, id uuid.UUID, form *schema.Tree, createIfMissing bool) (*store.Session, error) {
	if form == nil {
		return nil, errors.New("form is required")
	}
	var err error
	if createIfMissing {
		err = s.store.UpsertSession(ctx, id, form)
	} else {
		err = s.store.UpdateSession(ctx, id, form)
	}
	if err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, id)
}

// DeleteSession removes a conversation and its messages.
func (s *Service) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteSession(ctx, id)
}

// Forms returns the form source.
func (s *Service) Forms() FormSource { return s.forms }
