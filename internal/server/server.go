// Package server exposes conversations, checks and the vector store over
// HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"formpilot/internal/logging"
	"formpilot/internal/session"
	"formpilot/internal/store"
)

const (
	maxJSONBodyBytes = 1 << 20 // 1 MiB
	shutdownTimeout  = 10 * time.Second
)

// Backend is the storage the checks and vector store routes use.
// *store.LocalStore implements it.
type Backend interface {
	Ping(ctx context.Context) error
	TableExists(ctx context.Context, name string) (bool, error)
	MissingTables(ctx context.Context) ([]string, error)

	UpsertDocument(ctx context.Context, doc store.Document) (uuid.UUID, error)
	UpsertDocuments(ctx context.Context, docs []store.Document) ([]uuid.UUID, error)
	ListEmbeddings(ctx context.Context) ([]store.EmbeddingRecord, error)
	GetEmbedding(ctx context.Context, id uuid.UUID) (*store.EmbeddingRecord, error)
	GetEmbeddings(ctx context.Context, ids []uuid.UUID) ([]store.EmbeddingRecord, error)
	GetEmbeddingByContent(ctx context.Context, content string) (*store.EmbeddingRecord, error)
	DeleteEmbedding(ctx context.Context, id uuid.UUID) error
	DeleteEmbeddings(ctx context.Context, ids []uuid.UUID) error
	Nearest(ctx context.Context, text string, k int, metric store.Metric) ([]store.ScoredRecord, error)
	WithinDistance(ctx context.Context, text string, max float64, metric store.Metric) ([]store.ScoredRecord, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedQueries(ctx context.Context, texts []string) ([][]float32, error)
}

// Server is the HTTP API.
type Server struct {
	sessions     *session.Service
	backend      Backend
	corsOrigins  []string
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the allowed origins; "*" allows any.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithTimeouts sets the read and write timeouts of Serve.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// New creates a Server.
func New(sessions *session.Service, backend Backend, opts ...Option) *Server {
	s := &Server{
		sessions:     sessions,
		backend:      backend,
		readTimeout:  30 * time.Second,
		writeTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the full handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	s.registerChatRoutes(mux)
	s.registerSessionRoutes(mux)
	s.registerUUIDRoutes(mux)
	s.registerCheckRoutes(mux)
	s.registerVectorRoutes(mux)

	return s.withMiddleware(mux)
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logging.Server("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ===== MIDDLEWARE =====

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return s.loggingMiddleware(
		s.recoverMiddleware(
			s.corsMiddleware(next),
		),
	)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		if sw.status >= http.StatusInternalServerError {
			logging.ServerWarn("%s %s %d %s", r.Method, r.URL.Path, sw.status, time.Since(start))
			return
		}
		logging.ServerDebug("%s %s %d %s", r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.ServerError("panic serving %s %s: %v", r.Method, r.URL.Path, err)
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := s.allowedOrigin(origin); allowed != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if allowed != "*" {
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, o := range s.corsOrigins {
		if o == "*" {
			return "*"
		}
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
