package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"formpilot/internal/logging"
	"formpilot/internal/orchestrator"
	"formpilot/internal/schema"
	"formpilot/internal/session"
	"formpilot/internal/store"
)

// ===== CHAT =====

// chatInput is the body of POST /chat/message.
type chatInput struct {
	Message string `json:"message"`
}

// chatOutput is the reply of POST /chat/message.
type chatOutput struct {
	Response string       `json:"response"`
	Form     *schema.Tree `json:"form"`
}

// Failure details shown to callers. Causes are logged, never returned.
const (
	turnFailedDetail      = "The assistant could not process your message. Please try again."
	unexpectedErrorDetail = "An unexpected error occurred. Please try again or contact the admin if the issue persists."
)

func (s *Server) registerChatRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat/message", s.handleChat)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, "session_id", r.URL.Query().Get("session_id"))
	if !ok {
		return
	}
	var in chatInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if strings.TrimSpace(in.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "message: must contain at least 1 character")
		return
	}

	reply, err := s.sessions.Chat(r.Context(), id, in.Message)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrTurnProcessingFailed):
			logging.ServerError("Agent processing error: %v", err)
			writeError(w, http.StatusInternalServerError, turnFailedDetail)
		default:
			logging.ServerError("Unexpected error in chat: %v", err)
			writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		}
		return
	}
	writeJSON(w, http.StatusOK, chatOutput{Response: reply.Response, Form: reply.Form})
}

// ===== SESSIONS =====

func (s *Server) registerSessionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions/create_session", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/get_all_sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/get_session_data/{session_id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/get_messages_history/{session_id}", s.handleMessages)
	mux.HandleFunc("PUT /sessions/update_session_form/{session_id}", s.handleUpdateForm)
	mux.HandleFunc("DELETE /sessions/delete_session/{session_id}", s.handleDeleteSession)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, "session_id", r.URL.Query().Get("session_id"))
	if !ok {
		return
	}
	sess, err := s.sessions.CreateSession(r.Context(), id)
	if err != nil {
		internalError(w, "creating session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		internalError(w, "fetching all sessions", err)
		return
	}
	if all == nil {
		all = []store.Session{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, "session_id", r.PathValue("session_id"))
	if !ok {
		return
	}
	sess, err := s.sessions.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Session %s does not exist", id))
		return
	}
	if err != nil {
		internalError(w, "fetching session "+id.String(), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, "session_id", r.PathValue("session_id"))
	if !ok {
		return
	}
	msgs, err := s.sessions.Messages(r.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Session %s does not exist", id))
		return
	}
	if err != nil {
		internalError(w, "fetching messages for session "+id.String(), err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, "session_id", r.PathValue("session_id"))
	if !ok {
		return
	}
	create := false
	if raw := r.URL.Query().Get("create_if_not_exists"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "create_if_not_exists: must be a boolean")
			return
		}
		create = v
	}
	var form schema.Tree
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	sess, err := s.sessions.UpdateForm(r.Context(), id, &form, create)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Session %s does not exist", id))
		return
	}
	if err != nil {
		internalError(w, "updating session "+id.String(), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, "session_id", r.PathValue("session_id"))
	if !ok {
		return
	}
	err := s.sessions.DeleteSession(r.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Session %s does not exist", id))
		return
	}
	if err != nil {
		internalError(w, "deleting session "+id.String(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===== UUID =====

type uuidOutput struct {
	UUID string `json:"uuid"`
}

func (s *Server) registerUUIDRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /uuid/convert-string/{string_id}", s.handleConvertString)
}

func (s *Server) handleConvertString(w http.ResponseWriter, r *http.Request) {
	id, err := session.SessionIDFromString(r.PathValue("string_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, uuidOutput{UUID: id.String()})
}
