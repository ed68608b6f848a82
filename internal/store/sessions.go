package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"formpilot/internal/logging"
	"formpilot/internal/schema"
)

// =============================================================================
// SESSIONS AND MESSAGES
// =============================================================================

// Session is the persisted form snapshot of one conversation.
type Session struct {
	ID            uuid.UUID    `json:"session_id"`
	Form          *schema.Tree `json:"form_data"`
	CreatedAt     time.Time    `json:"created_at"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
}

// Message is one persisted exchange: the user's prompt and the reply.
type Message struct {
	ID        uuid.UUID `json:"message_id"`
	SessionID uuid.UUID `json:"session_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

func encodeForm(form *schema.Tree) (string, error) {
	if form == nil {
		return "", errors.New("form is nil")
	}
	raw, err := form.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode form: %w", err)
	}
	return string(raw), nil
}

// CreateSession inserts a session with form unless one already exists.
func (s *LocalStore) CreateSession(ctx context.Context, id uuid.UUID, form *schema.Tree) error {
	data, err := encodeForm(form)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, form_data, created_at, last_updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		id.String(), data, now, now,
	)
	if err != nil {
		logging.StoreError("Failed to create session %s: %v", id, err)
		return fmt.Errorf("failed to create session: %w", err)
	}
	logging.StoreDebug("Created session %s", id)
	return nil
}

// UpsertSession inserts the session or replaces its form.
func (s *LocalStore) UpsertSession(ctx context.Context, id uuid.UUID, form *schema.Tree) error {
	data, err := encodeForm(form)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertSession(ctx, s.db, id, data)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *LocalStore) upsertSession(ctx context.Context, db execer, id uuid.UUID, data string) error {
	now := s.timestamp()
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, form_data, created_at, last_updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   form_data = excluded.form_data,
		   last_updated_at = excluded.last_updated_at`,
		id.String(), data, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// UpdateSession replaces the form of an existing session.
func (s *LocalStore) UpdateSession(ctx context.Context, id uuid.UUID, form *schema.Tree) error {
	data, err := encodeForm(form)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET form_data = ?, last_updated_at = ? WHERE session_id = ?`,
		data, s.timestamp(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// GetSession loads one session.
func (s *LocalStore) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, form_data, created_at, last_updated_at FROM sessions WHERE session_id = ?`,
		id.String(),
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns every session, oldest first.
func (s *LocalStore) ListSessions(ctx context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, form_data, created_at, last_updated_at FROM sessions ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// SessionExists reports whether a session row exists.
func (s *LocalStore) SessionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionExists(ctx, id)
}

func (s *LocalStore) sessionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return true, nil
}

// DeleteSession removes a session and its messages.
func (s *LocalStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.sessionExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	logging.Store("Deleted session %s", id)
	return nil
}

// UpsertMessage inserts a message or replaces it by id.
func (s *LocalStore) UpsertMessage(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertMessage(ctx, s.db, msg)
}

func (s *LocalStore) upsertMessage(ctx context.Context, db execer, msg Message) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, prompt, response, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET
		   session_id = excluded.session_id,
		   prompt = excluded.prompt,
		   response = excluded.response,
		   created_at = excluded.created_at`,
		msg.ID.String(), msg.SessionID.String(), msg.Prompt, msg.Response, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// SaveTurn persists a turn's form snapshot and message in one transaction.
func (s *LocalStore) SaveTurn(ctx context.Context, id uuid.UUID, form *schema.Tree, msg Message) error {
	data, err := encodeForm(form)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.upsertSession(ctx, tx, id, data); err != nil {
		return err
	}
	msg.SessionID = id
	if err := s.upsertMessage(ctx, tx, msg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	logging.StoreDebug("Saved turn for session %s (message %s)", id, msg.ID)
	return nil
}

// Messages returns a session's messages, oldest first. Unless allowMissing
// is set, a session without a row is ErrSessionNotFound.
func (s *LocalStore) Messages(ctx context.Context, id uuid.UUID, allowMissing bool) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !allowMissing {
		exists, err := s.sessionExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, prompt, response, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at, rowid`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msg           Message
			msgID, sessID string
			createdAt     string
		)
		if err := rows.Scan(&msgID, &sessID, &msg.Prompt, &msg.Response, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.ID, err = uuid.Parse(msgID); err != nil {
			return nil, fmt.Errorf("invalid message id %q: %w", msgID, err)
		}
		if msg.SessionID, err = uuid.Parse(sessID); err != nil {
			return nil, fmt.Errorf("message %s has an invalid session id: %w", msgID, err)
		}
		msg.CreatedAt = parseTimestamp(createdAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var id, form, created, updated string
	if err := row.Scan(&id, &form, &created, &updated); err != nil {
		return nil, err
	}
	tree, err := schema.Parse([]byte(form))
	if err != nil {
		return nil, fmt.Errorf("session %s has an invalid form: %w", id, err)
	}
	sid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	return &Session{
		ID:            sid,
		Form:          tree,
		CreatedAt:     parseTimestamp(created),
		LastUpdatedAt: parseTimestamp(updated),
	}, nil
}
