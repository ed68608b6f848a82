package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"formpilot/internal/logging"
	"formpilot/internal/mcpserver"
	"formpilot/internal/server"
)

// =============================================================================
// SERVER COMMANDS
// =============================================================================

var serveAddr string

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat, session, health and vector store HTTP API",
	Long: `Starts the HTTP API. Chat turns are served under /chat, conversation
management under /sessions, health checks under /check and at the root,
and similarity search under /vectorstore.

The listen address defaults to server.addr from the config (or FORMPILOT_ADDR).`,
	RunE: runServe,
}

// mcpCmd exposes the conversation service as MCP tools over stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve form.chat, form.session and form.reset as MCP tools over stdio",
	RunE:  runMCP,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg, appOptions{pipeline: true, vectors: true, watch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := server.New(a.sessions, a.store,
		server.WithCORSOrigins(cfg.Server.CORSOrigins),
		server.WithTimeouts(cfg.GetReadTimeout(), cfg.GetWriteTimeout()),
	)
	logging.Boot("Serving HTTP API on %s", addr)
	return srv.Serve(ctx, addr)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg, appOptions{pipeline: true, watch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	logging.Boot("Serving MCP tools over stdio")
	return mcpserver.New(a.sessions, version).ServeStdio(ctx)
}
