package server

import (
	"fmt"
	"net/http"
	"strings"

	"formpilot/internal/logging"
)

func (s *Server) registerCheckRoutes(mux *http.ServeMux) {
	// Served both at the root and under /check.
	for _, prefix := range []string{"", "/check"} {
		mux.HandleFunc("GET "+prefix+"/check_health", s.handleHealth)
		mux.HandleFunc("GET "+prefix+"/check_db", s.handleCheckDB)
		mux.HandleFunc("GET "+prefix+"/check_table/{table_name}", s.handleCheckTable)
		mux.HandleFunc("GET "+prefix+"/check_tables", s.handleCheckTables)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) handleCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Ping(r.Context()); err != nil {
		logging.ServerError("Database error while checking connection: %v", err)
		writeError(w, http.StatusInternalServerError, "Could not connect to the database.")
		return
	}
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) handleCheckTable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("table_name")
	ok, err := s.backend.TableExists(r.Context(), name)
	if err != nil {
		internalError(w, "checking table "+name, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Table %s does not exist in the database.", name))
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("Table %s exists in the database.", name))
}

func (s *Server) handleCheckTables(w http.ResponseWriter, r *http.Request) {
	missing, err := s.backend.MissingTables(r.Context())
	if err != nil {
		internalError(w, "checking tables", err)
		return
	}
	if len(missing) > 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Tables [%s] do not exist in the database.", strings.Join(missing, ", ")))
		return
	}
	writeText(w, http.StatusOK, "All tables exist in the database.")
}
