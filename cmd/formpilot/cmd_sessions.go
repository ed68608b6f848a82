package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"formpilot/internal/session"
	"formpilot/internal/store"
)

// =============================================================================
// SESSION MANAGEMENT COMMANDS
// =============================================================================

var sessionsJSON bool

// sessionsCmd manages stored conversations
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
	Long: `List, inspect and delete stored conversations.

Subcommands:
  list     - List all conversations
  show     - Show a conversation's form and messages
  delete   - Delete a conversation and its messages

Sessions are addressed by UUID or by the name given to "chat --session".`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all conversations",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Show a conversation's form and messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print as JSON")
	sessionsListCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print as JSON")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.sessions.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	out := cmd.OutOrStdout()
	if sessionsJSON {
		return writeJSON(out, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No saved sessions found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tCREATED\tUPDATED\tPROGRESS")
	for _, s := range sessions {
		filled, total := s.Form.Leaves()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\n", s.ID,
			s.CreatedAt.Local().Format(time.DateTime),
			s.LastUpdatedAt.Local().Format(time.DateTime),
			filled, total)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal: %d sessions\n", len(sessions))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	id, err := session.ParseSessionID(args[0])
	if err != nil {
		return fmt.Errorf("invalid session %q: %w", args[0], err)
	}
	a, err := openApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.sessions.GetSession(cmd.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("session %s does not exist", id)
	}
	if err != nil {
		return err
	}
	msgs, err := a.sessions.Messages(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		return writeJSON(out, map[string]interface{}{
			"session":  sess,
			"messages": msgs,
		})
	}
	fmt.Fprintf(out, "Session %s\n", sess.ID)
	fmt.Fprintf(out, "Created %s, updated %s\n\n",
		sess.CreatedAt.Local().Format(time.DateTime),
		sess.LastUpdatedAt.Local().Format(time.DateTime))
	fmt.Fprint(out, formText(sess.Form))
	if len(msgs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, strings.Repeat("─", 50))
	}
	for _, m := range msgs {
		fmt.Fprintf(out, "[%s] you: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.Prompt)
		fmt.Fprintf(out, "         formpilot: %s\n", m.Response)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	id, err := session.ParseSessionID(args[0])
	if err != nil {
		return fmt.Errorf("invalid session %q: %w", args[0], err)
	}
	a, err := openApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sessions.DeleteSession(cmd.Context(), id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return fmt.Errorf("session %s does not exist", id)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", id)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
