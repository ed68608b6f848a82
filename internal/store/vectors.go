package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"formpilot/internal/logging"
)

// =============================================================================
// VECTOR STORE
// =============================================================================

// Document is text to embed, with free-form properties.
type Document struct {
	Content    string                 `json:"content"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// EmbeddingRecord is a stored document and its vector.
type EmbeddingRecord struct {
	ID            uuid.UUID              `json:"embedding_id"`
	Content       string                 `json:"content"`
	Embedding     []float32              `json:"embedding"`
	Properties    map[string]interface{} `json:"properties"`
	CreatedAt     time.Time              `json:"created_at"`
	LastUpdatedAt time.Time              `json:"last_updated_at"`
}

// ScoredRecord is a search hit with its distance to the query.
type ScoredRecord struct {
	EmbeddingRecord
	Distance float64 `json:"distance"`
}

const embeddingColumns = `embedding_id, content, embedding, properties, created_at, last_updated_at`

// DocumentID is the id a document's content is stored under.
func DocumentID(content string) (uuid.UUID, error) {
	return UUIDFromString(content)
}

// EmbedQuery embeds text with the store's engine.
func (s *LocalStore) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.engine == nil {
		return nil, ErrNoEmbeddingEngine
	}
	return s.engine.Embed(ctx, text)
}

// EmbedQueries embeds several texts with the store's engine.
func (s *LocalStore) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	if s.engine == nil {
		return nil, ErrNoEmbeddingEngine
	}
	return s.engine.EmbedBatch(ctx, texts)
}

// UpsertDocument embeds a document and stores it under its content id.
func (s *LocalStore) UpsertDocument(ctx context.Context, doc Document) (uuid.UUID, error) {
	ids, err := s.UpsertDocuments(ctx, []Document{doc})
	if err != nil {
		return uuid.Nil, err
	}
	return ids[0], nil
}

// UpsertDocuments embeds documents in one batch and stores them in one
// transaction.
func (s *LocalStore) UpsertDocuments(ctx context.Context, docs []Document) ([]uuid.UUID, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "UpsertDocuments")
	defer timer.Stop()

	texts := make([]string, len(docs))
	for i, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			return nil, fmt.Errorf("document %d has no content", i)
		}
		texts[i] = d.Content
	}
	vectors, err := s.EmbedQueries(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedding engine returned %d vectors for %d documents", len(vectors), len(docs))
	}

	records := make([]EmbeddingRecord, len(docs))
	for i, d := range docs {
		id, err := DocumentID(d.Content)
		if err != nil {
			return nil, err
		}
		records[i] = EmbeddingRecord{ID: id, Content: d.Content, Embedding: vectors[i], Properties: d.Properties}
	}
	if err := s.PutEmbeddings(ctx, records); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids, nil
}

// PutEmbeddings stores precomputed records, replacing existing ids.
func (s *LocalStore) PutEmbeddings(ctx context.Context, records []EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	for _, r := range records {
		props, err := json.Marshal(r.Properties)
		if err != nil {
			return fmt.Errorf("failed to encode properties: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO embeddings (`+embeddingColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(embedding_id) DO UPDATE SET
			   content = excluded.content,
			   embedding = excluded.embedding,
			   properties = excluded.properties,
			   last_updated_at = excluded.last_updated_at`,
			r.ID.String(), r.Content, encodeVector(r.Embedding), string(props), now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert embedding %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit embeddings: %w", err)
	}
	logging.StoreDebug("Upserted %d embeddings", len(records))
	return nil
}

// GetEmbedding loads one record.
func (s *LocalStore) GetEmbedding(ctx context.Context, id uuid.UUID) (*EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+embeddingColumns+` FROM embeddings WHERE embedding_id = ?`, id.String())
	rec, err := scanEmbedding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingNotFound, id)
	}
	return rec, err
}

// GetEmbeddings loads the records that exist among ids. It fails with
// ErrEmbeddingNotFound only when none exist.
func (s *LocalStore) GetEmbeddings(ctx context.Context, ids []uuid.UUID) ([]EmbeddingRecord, error) {
	if len(ids) == 0 {
		return nil, ErrEmbeddingNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+embeddingColumns+` FROM embeddings WHERE embedding_id IN (`+placeholders+`) ORDER BY created_at, rowid`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	out, err := scanEmbeddings(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmbeddingNotFound
	}
	return out, nil
}

// GetEmbeddingByContent finds the record stored for exactly this content.
func (s *LocalStore) GetEmbeddingByContent(ctx context.Context, content string) (*EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+embeddingColumns+` FROM embeddings WHERE content = ? LIMIT 1`, content)
	rec, err := scanEmbedding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: content %q", ErrEmbeddingNotFound, content)
	}
	return rec, err
}

// ListEmbeddings returns every record, oldest first.
func (s *LocalStore) ListEmbeddings(ctx context.Context) ([]EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+embeddingColumns+` FROM embeddings ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	return scanEmbeddings(rows)
}

// DeleteEmbedding removes one record.
func (s *LocalStore) DeleteEmbedding(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE embedding_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrEmbeddingNotFound, id)
	}
	return nil
}

// DeleteEmbeddings removes the records that exist among ids. It fails with
// ErrEmbeddingNotFound only when none exist.
func (s *LocalStore) DeleteEmbeddings(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return ErrEmbeddingNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders, args := inClause(ids)
	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE embedding_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEmbeddingNotFound
	}
	return nil
}

// Nearest returns the k records closest to text.
func (s *LocalStore) Nearest(ctx context.Context, text string, k int, metric Metric) ([]ScoredRecord, error) {
	vec, err := s.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.NearestToVector(ctx, vec, k, metric)
}

// NearestToVector returns the k records closest to vec, nearest first.
// Records of a different dimension are an error from the distance function.
func (s *LocalStore) NearestToVector(ctx context.Context, vec []float32, k int, metric Metric) ([]ScoredRecord, error) {
	fn, ok := distanceFunctions[metric]
	if !ok {
		return nil, fmt.Errorf("unsupported distance type %q", metric)
	}
	if k <= 0 {
		k = 5
	}
	timer := logging.StartTimer(logging.CategoryStore, "NearestToVector")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+embeddingColumns+`, `+fn+`(embedding, ?) AS distance
		 FROM embeddings ORDER BY distance ASC, rowid LIMIT ?`,
		encodeVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("nearest query failed: %w", err)
	}
	return scanScored(rows)
}

// WithinDistance returns the records closer than max to text.
func (s *LocalStore) WithinDistance(ctx context.Context, text string, max float64, metric Metric) ([]ScoredRecord, error) {
	vec, err := s.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.WithinDistanceOfVector(ctx, vec, max, metric)
}

// WithinDistanceOfVector returns the records closer than max to vec,
// nearest first.
func (s *LocalStore) WithinDistanceOfVector(ctx context.Context, vec []float32, max float64, metric Metric) ([]ScoredRecord, error) {
	fn, ok := distanceFunctions[metric]
	if !ok {
		return nil, fmt.Errorf("unsupported distance type %q", metric)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM (
		   SELECT `+embeddingColumns+`, `+fn+`(embedding, ?) AS distance FROM embeddings
		 ) WHERE distance < ? ORDER BY distance ASC`,
		encodeVector(vec), max)
	if err != nil {
		return nil, fmt.Errorf("distance query failed: %w", err)
	}
	return scanScored(rows)
}

// ----- scanning -----

func inClause(ids []uuid.UUID) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func scanEmbeddingInto(row rowScanner, extra ...interface{}) (*EmbeddingRecord, error) {
	var (
		rec              EmbeddingRecord
		id               string
		blob             []byte
		props            sql.NullString
		created, updated string
	)
	dest := append([]interface{}{&id, &rec.Content, &blob, &props, &created, &updated}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if rec.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid embedding id %q: %w", id, err)
	}
	if rec.Embedding, err = decodeVector(blob); err != nil {
		return nil, fmt.Errorf("embedding %s: %w", id, err)
	}
	rec.Properties = map[string]interface{}{}
	if props.Valid && props.String != "" && props.String != "null" {
		if err := json.Unmarshal([]byte(props.String), &rec.Properties); err != nil {
			return nil, fmt.Errorf("embedding %s has invalid properties: %w", id, err)
		}
	}
	rec.CreatedAt = parseTimestamp(created)
	rec.LastUpdatedAt = parseTimestamp(updated)
	return &rec, nil
}

func scanEmbedding(row rowScanner) (*EmbeddingRecord, error) {
	return scanEmbeddingInto(row)
}

func scanEmbeddings(rows *sql.Rows) ([]EmbeddingRecord, error) {
	defer rows.Close()
	var out []EmbeddingRecord
	for rows.Next() {
		rec, err := scanEmbeddingInto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanScored(rows *sql.Rows) ([]ScoredRecord, error) {
	defer rows.Close()
	var out []ScoredRecord
	for rows.Next() {
		var dist float64
		rec, err := scanEmbeddingInto(rows, &dist)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredRecord{EmbeddingRecord: *rec, Distance: dist})
	}
	return out, rows.Err()
}
