// Package mcpserver exposes form conversations as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"formpilot/internal/logging"
	"formpilot/internal/orchestrator"
	"formpilot/internal/schema"
	"formpilot/internal/session"
	"formpilot/internal/store"
)

// Errors returned to clients in place of the logged cause.
var (
	errTurnFailed = errors.New("the assistant could not process your message, please try again")
	errUnexpected = errors.New("an unexpected error occurred, please try again")
)

// ChatInput is the argument of form.chat.
type ChatInput struct {
	Session string `json:"session"`
	Message string `json:"message"`
}

// SessionInput is the argument of form.session and form.reset.
type SessionInput struct {
	Session string `json:"session"`
}

// Server holds the MCP server and the conversation service behind it.
type Server struct {
	sessions *session.Service
	server   *mcp.Server
}

// New registers the form tools.
func New(sessions *session.Service, version string) *Server {
	s := &Server{
		sessions: sessions,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "formpilot",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "form.chat",
		Description: `Send one user message to a form-filling conversation and get the assistant's reply.

Parameters:
- session (required): conversation id; a UUID, or any name (mapped to a stable UUID)
- message (required): what the user said`,
	}, s.chat)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "form.session",
		Description: `Show a conversation's form, progress and message history.

Parameters:
- session (required): conversation id or name`,
	}, s.showSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "form.reset",
		Description: `Clear a conversation's messages and restart its form from the template.

Parameters:
- session (required): conversation id or name`,
	}, s.reset)

	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *mcp.Server { return s.server }

// ServeStdio serves on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	logging.MCP("Serving MCP over stdio")
	ss, err := s.server.Connect(ctx, mcp.NewStdioTransport(), nil)
	if err != nil {
		return fmt.Errorf("failed to start MCP session: %w", err)
	}
	return ss.Wait()
}

func parseSession(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, errors.New("session is required")
	}
	return session.ParseSessionID(raw)
}

// formValue encodes a tree as raw JSON so field order survives.
func formValue(t *schema.Tree) (json.RawMessage, error) {
	raw, err := t.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func progress(t *schema.Tree) map[string]interface{} {
	filled, total := t.Leaves()
	out := map[string]interface{}{"filled": filled, "total": total}
	if next, ok := schema.FirstUnfilledPath(t); ok {
		out["next_field"] = next.String()
	}
	return out
}

func (s *Server) chat(ctx context.Context, req *mcp.CallToolRequest, in ChatInput) (*mcp.CallToolResult, map[string]interface{}, error) {
	id, err := parseSession(in.Session)
	if err != nil {
		return nil, nil, err
	}
	logging.MCPDebug("form.chat session=%s", id)

	reply, err := s.sessions.Chat(ctx, id, in.Message)
	if err != nil {
		logging.MCPError("form.chat failed: %v", err)
		if errors.Is(err, orchestrator.ErrTurnProcessingFailed) {
			return nil, nil, errTurnFailed
		}
		return nil, nil, errUnexpected
	}
	form, err := formValue(reply.Form)
	if err != nil {
		return nil, nil, err
	}
	out := map[string]interface{}{
		"session_id": id.String(),
		"response":   reply.Response,
		"kind":       string(reply.Kind),
		"form":       form,
		"progress":   progress(reply.Form),
		"persisted":  reply.Persisted,
	}
	if len(reply.TargetPath) > 0 {
		out["target_field"] = reply.TargetPath.String()
	}
	return nil, out, nil
}

func (s *Server) showSession(ctx context.Context, req *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, map[string]interface{}, error) {
	id, err := parseSession(in.Session)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, nil, fmt.Errorf("session %s does not exist", id)
	}
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.sessions.Messages(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	form, err := formValue(sess.Form)
	if err != nil {
		return nil, nil, err
	}
	history := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, map[string]interface{}{
			"prompt":     m.Prompt,
			"response":   m.Response,
			"created_at": m.CreatedAt,
		})
	}
	return nil, map[string]interface{}{
		"session_id":      id.String(),
		"form":            form,
		"progress":        progress(sess.Form),
		"messages":        history,
		"created_at":      sess.CreatedAt,
		"last_updated_at": sess.LastUpdatedAt,
	}, nil
}

func (s *Server) reset(ctx context.Context, req *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, map[string]interface{}, error) {
	id, err := parseSession(in.Session)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.sessions.ResetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	form, err := formValue(sess.Form)
	if err != nil {
		return nil, nil, err
	}
	logging.MCP("form.reset session=%s", id)
	return nil, map[string]interface{}{
		"session_id": id.String(),
		"form":       form,
		"progress":   progress(sess.Form),
	}, nil
}
