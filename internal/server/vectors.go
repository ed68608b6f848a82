package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"formpilot/internal/store"
)

// documentInput is one document to embed.
type documentInput struct {
	Content    string                 `json:"content"`
	Properties map[string]interface{} `json:"properties"`
}

func (d documentInput) validate() error {
	if strings.TrimSpace(d.Content) == "" {
		return errors.New("content: must contain at least 1 character")
	}
	return nil
}

func (s *Server) registerVectorRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /vectorstore/upsert_embedding", s.handleUpsertEmbedding)
	mux.HandleFunc("PUT /vectorstore/upsert_embeddings", s.handleUpsertEmbeddings)
	mux.HandleFunc("GET /vectorstore/get_all_embeddings", s.handleListEmbeddings)
	mux.HandleFunc("GET /vectorstore/get_embedding/{embedding_id}", s.handleGetEmbedding)
	mux.HandleFunc("GET /vectorstore/get_embeddings", s.handleGetEmbeddings)
	mux.HandleFunc("DELETE /vectorstore/delete_embedding/{embedding_id}", s.handleDeleteEmbedding)
	mux.HandleFunc("DELETE /vectorstore/delete_embeddings", s.handleDeleteEmbeddings)
	mux.HandleFunc("GET /vectorstore/get_embedding_by_content", s.handleGetEmbeddingByContent)
	mux.HandleFunc("GET /vectorstore/get_nearest_embeddings", s.handleNearest)
	mux.HandleFunc("GET /vectorstore/get_embeddings_within_distance", s.handleWithinDistance)
	mux.HandleFunc("GET /vectorstore/embed_query/{query}", s.handleEmbedQuery)
	mux.HandleFunc("GET /vectorstore/embed_queries", s.handleEmbedQueries)
}

// vectorError answers 503 when no engine is configured, 500 otherwise.
func vectorError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, store.ErrNoEmbeddingEngine):
		writeError(w, http.StatusServiceUnavailable, "No embedding engine is configured.")
	default:
		internalError(w, what, err)
	}
}

func (s *Server) handleUpsertEmbedding(w http.ResponseWriter, r *http.Request) {
	var doc documentInput
	if err := decodeJSON(w, r, &doc); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := doc.validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if _, err := s.backend.UpsertDocument(r.Context(), store.Document(doc)); err != nil {
		vectorError(w, "upserting embedding", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertEmbeddings(w http.ResponseWriter, r *http.Request) {
	var in []documentInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	docs := make([]store.Document, len(in))
	for i, d := range in {
		if err := d.validate(); err != nil {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("[%d] %v", i, err))
			return
		}
		docs[i] = store.Document(d)
	}
	if _, err := s.backend.UpsertDocuments(r.Context(), docs); err != nil {
		vectorError(w, "upserting embeddings", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEmbeddings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.backend.ListEmbeddings(r.Context())
	if err != nil {
		internalError(w, "fetching all embeddings", err)
		return
	}
	if recs == nil {
		recs = []store.EmbeddingRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetEmbedding(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, "embedding_id", r.PathValue("embedding_id"))
	if !ok {
		return
	}
	rec, err := s.backend.GetEmbedding(r.Context(), id)
	if errors.Is(err, store.ErrEmbeddingNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Embedding %s does not exist", id))
		return
	}
	if err != nil {
		internalError(w, "fetching embedding "+id.String(), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetEmbeddings(w http.ResponseWriter, r *http.Request) {
	ids, ok := uuidList(w, "embedding_id", r.URL.Query()["embedding_id"])
	if !ok {
		return
	}
	recs, err := s.backend.GetEmbeddings(r.Context(), ids)
	if errors.Is(err, store.ErrEmbeddingNotFound) {
		writeError(w, http.StatusNotFound, "None of the embeddings exist")
		return
	}
	if err != nil {
		internalError(w, "fetching embeddings", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleDeleteEmbedding(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, "embedding_id", r.PathValue("embedding_id"))
	if !ok {
		return
	}
	err := s.backend.DeleteEmbedding(r.Context(), id)
	if errors.Is(err, store.ErrEmbeddingNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Embedding %s does not exist", id))
		return
	}
	if err != nil {
		internalError(w, "deleting embedding "+id.String(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEmbeddings(w http.ResponseWriter, r *http.Request) {
	ids, ok := uuidList(w, "embedding_id", r.URL.Query()["embedding_id"])
	if !ok {
		return
	}
	err := s.backend.DeleteEmbeddings(r.Context(), ids)
	if errors.Is(err, store.ErrEmbeddingNotFound) {
		writeError(w, http.StatusNotFound, "None of the embeddings exist")
		return
	}
	if err != nil {
		internalError(w, "deleting embeddings", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetEmbeddingByContent(w http.ResponseWriter, r *http.Request) {
	content := r.URL.Query().Get("content")
	if content == "" {
		writeError(w, http.StatusUnprocessableEntity, "content: field required")
		return
	}
	rec, err := s.backend.GetEmbeddingByContent(r.Context(), content)
	if errors.Is(err, store.ErrEmbeddingNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Embedding with content %s does not exist", content))
		return
	}
	if err != nil {
		internalError(w, "fetching embedding by content", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// searchParams reads the query text and distance_type.
func searchParams(w http.ResponseWriter, r *http.Request) (string, store.Metric, bool) {
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		writeError(w, http.StatusUnprocessableEntity, "query: field required")
		return "", "", false
	}
	metric, err := store.ParseMetric(q.Get("distance_type"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "distance_type: "+err.Error())
		return "", "", false
	}
	return query, metric, true
}

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	query, metric, ok := searchParams(w, r)
	if !ok {
		return
	}
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusUnprocessableEntity, "limit: must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.backend.Nearest(r.Context(), query, limit, metric)
	if err != nil {
		vectorError(w, "fetching nearest embeddings", err)
		return
	}
	if recs == nil {
		recs = []store.ScoredRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleWithinDistance(w http.ResponseWriter, r *http.Request) {
	query, metric, ok := searchParams(w, r)
	if !ok {
		return
	}
	dist, err := strconv.ParseFloat(r.URL.Query().Get("distance"), 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "distance: must be a number")
		return
	}
	recs, err := s.backend.WithinDistance(r.Context(), query, dist, metric)
	if err != nil {
		vectorError(w, "fetching embeddings within distance", err)
		return
	}
	if recs == nil {
		recs = []store.ScoredRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleEmbedQuery(w http.ResponseWriter, r *http.Request) {
	vec, err := s.backend.EmbedQuery(r.Context(), r.PathValue("query"))
	if err != nil {
		vectorError(w, "embedding query", err)
		return
	}
	if len(vec) == 0 {
		writeError(w, http.StatusNotFound, "Embedding does not exist")
		return
	}
	writeJSON(w, http.StatusOK, vec)
}

func (s *Server) handleEmbedQueries(w http.ResponseWriter, r *http.Request) {
	queries := r.URL.Query()["queries"]
	if len(queries) == 0 {
		writeError(w, http.StatusNotFound, "Embedding does not exist")
		return
	}
	vecs, err := s.backend.EmbedQueries(r.Context(), queries)
	if err != nil {
		vectorError(w, "embedding queries", err)
		return
	}
	writeJSON(w, http.StatusOK, vecs)
}
