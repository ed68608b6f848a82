package store

import (
	"context"
	"fmt"
	"time"

	"formpilot/internal/logging"
	"formpilot/internal/perception"
)

// =============================================================================
// ROLE TRACES
// =============================================================================

// StoreRoleTrace persists one role call. It implements perception.TraceStore.
func (s *LocalStore) StoreRoleTrace(trace *perception.RoleTrace) error {
	if trace == nil {
		return fmt.Errorf("trace is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := trace.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO role_traces
		 (id, role, session_id, model, system_prompt, user_prompt, response,
		  structured, duration_ms, success, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.ID, trace.Role, trace.SessionID, trace.Model,
		trace.SystemPrompt, trace.UserPrompt, trace.Response,
		trace.Structured, trace.DurationMs, trace.Success, trace.ErrorMessage,
		ts.UTC().Format(timeLayout),
	)
	if err != nil {
		logging.StoreError("Failed to store role trace %s: %v", trace.ID, err)
		return fmt.Errorf("failed to store role trace: %w", err)
	}
	logging.StoreDebug("Stored role trace %s (role=%s, success=%v)", trace.ID, trace.Role, trace.Success)
	return nil
}

// RoleTraces returns the most recent traces, newest first. A non-empty
// sessionID restricts them to one conversation.
func (s *LocalStore) RoleTraces(ctx context.Context, sessionID string, limit int) ([]perception.RoleTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, role, session_id, model, system_prompt, user_prompt, response,
	                 structured, duration_ms, success, error_message, created_at
	          FROM role_traces`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query role traces: %w", err)
	}
	defer rows.Close()

	var out []perception.RoleTrace
	for rows.Next() {
		var (
			t         perception.RoleTrace
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.Role, &t.SessionID, &t.Model, &t.SystemPrompt, &t.UserPrompt,
			&t.Response, &t.Structured, &t.DurationMs, &t.Success, &t.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan role trace: %w", err)
		}
		t.Timestamp = parseTimestamp(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneRoleTraces deletes traces older than the retention window.
func (s *LocalStore) PruneRoleTraces(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-retention).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM role_traces WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune role traces: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("Pruned %d role traces older than %s", n, retention)
	}
	return n, nil
}
