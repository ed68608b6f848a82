package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"formpilot/internal/orchestrator"
	"formpilot/internal/schema"
)

// History returns the conversation as ordered turns. Each stored exchange
// becomes a user turn followed by an assistant turn; empty sides are
// skipped. limit > 0 keeps only the most recent limit exchanges. A
// conversation with no messages yields an empty history.
func (s *LocalStore) History(ctx context.Context, id uuid.UUID, limit int) ([]orchestrator.Turn, error) {
	msgs, err := s.Messages(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	turns := make([]orchestrator.Turn, 0, 2*len(msgs))
	for _, m := range msgs {
		if m.Prompt != "" {
			turns = append(turns, orchestrator.UserTurn(m.Prompt))
		}
		if m.Response != "" {
			turns = append(turns, orchestrator.Turn{Role: orchestrator.RoleAssistant, Content: m.Response})
		}
	}
	return turns, nil
}

// LatestForm returns the persisted form of a conversation; ok is false when
// the conversation has none yet.
func (s *LocalStore) LatestForm(ctx context.Context, id uuid.UUID) (form *schema.Tree, ok bool, err error) {
	sess, err := s.GetSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sess.Form, true, nil
}
