package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Ping checks the database connection with a trivial query.
func (s *LocalStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// TableExists reports whether a table of that name exists.
func (s *LocalStore) TableExists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return true, nil
}

// MissingTables returns the conversation tables that do not exist.
func (s *LocalStore) MissingTables(ctx context.Context) ([]string, error) {
	var missing []string
	for _, name := range []string{"messages", "sessions"} {
		ok, err := s.TableExists(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
