// Package store persists conversations, form snapshots, role traces and
// embeddings in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"formpilot/internal/embedding"
	"formpilot/internal/logging"
)

var (
	// ErrSessionNotFound is returned when a conversation has no session row.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmbeddingNotFound is returned when no requested embedding exists.
	ErrEmbeddingNotFound = errors.New("embedding not found")

	// ErrNoEmbeddingEngine is returned by operations that need to embed text
	// on a store opened without an engine.
	ErrNoEmbeddingEngine = errors.New("no embedding engine configured")
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// LocalStore is the SQLite-backed store.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	engine embedding.Engine
	now    func() time.Time
}

// Option configures a LocalStore.
type Option func(*LocalStore)

// WithEmbeddingEngine sets the engine used to embed vector store documents
// and queries.
func WithEmbeddingEngine(engine embedding.Engine) Option {
	return func(s *LocalStore) { s.engine = engine }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *LocalStore) { s.now = now }
}

// NewLocalStore opens (creating if needed) the SQLite database at path.
// ":memory:" opens a private in-memory database.
func NewLocalStore(path string, opts ...Option) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps ":memory:" a single database and serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	if v := s.VecVersion(context.Background()); v != "" {
		logging.Store("sqlite-vec extension available: %s", v)
	}
	logging.Store("LocalStore ready (driver=%s)", driverName)
	return s, nil
}

// Tables lists every table the store owns.
var Tables = []string{"sessions", "messages", "embeddings", "role_traces"}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	sessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		form_data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_updated_at TEXT NOT NULL
	);
	`

	messagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`

	embeddingsTable := `
	CREATE TABLE IF NOT EXISTS embeddings (
		embedding_id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		properties TEXT,
		created_at TEXT NOT NULL,
		last_updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_content ON embeddings(content);
	`

	traceTable := `
	CREATE TABLE IF NOT EXISTS role_traces (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		session_id TEXT,
		model TEXT,
		system_prompt TEXT NOT NULL,
		user_prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		structured BOOLEAN NOT NULL DEFAULT 0,
		duration_ms INTEGER,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_role_traces_session ON role_traces(session_id);
	CREATE INDEX IF NOT EXISTS idx_role_traces_role ON role_traces(role);
	`

	for _, ddl := range []string{sessionsTable, messagesTable, embeddingsTable, traceTable} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.StoreDebug("Closing LocalStore at %s", s.dbPath)
	return s.db.Close()
}

// Path returns the database path.
func (s *LocalStore) Path() string { return s.dbPath }

// EmbeddingEngine returns the configured engine, or nil.
func (s *LocalStore) EmbeddingEngine() embedding.Engine { return s.engine }

func (s *LocalStore) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTimestamp(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		// Accept anything RFC 3339 written by other tools.
		if t2, err2 := time.Parse(time.RFC3339Nano, v); err2 == nil {
			return t2
		}
		return time.Time{}
	}
	return t
}
