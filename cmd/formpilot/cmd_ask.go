package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"formpilot/internal/orchestrator"
	"formpilot/internal/session"
)

var (
	sessionName string
	askJSON     bool
)

// askCmd runs a single turn
var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run one conversation turn and print the reply",
	Long: `Sends one message to a conversation and prints the assistant's reply and
the updated form. The conversation is created from the form template on its
first message and continues across invocations.

Example:
  formpilot ask --session demo "My name is Ada Lovelace"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&sessionName, "session", "s", "default", "Conversation id or name")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the reply as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	id, err := session.ParseSessionID(sessionName)
	if err != nil {
		return fmt.Errorf("invalid session %q: %w", sessionName, err)
	}

	a, err := openApp(ctx, cfg, appOptions{pipeline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.sessions.Chat(ctx, id, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printReply(cmd.OutOrStdout(), reply, askJSON)
}

func printReply(w io.Writer, reply *session.Reply, asJSON bool) error {
	if asJSON {
		return writeJSON(w, reply)
	}
	fmt.Fprintln(w, reply.Response)
	fmt.Fprintln(w)
	fmt.Fprint(w, formText(reply.Form))
	if reply.Kind == orchestrator.KindCompletion {
		fmt.Fprintln(w, "Form complete.")
	}
	if !reply.Persisted {
		fmt.Fprintln(w, "warning: this turn could not be saved")
	}
	return nil
}

// shortID is the first block of a UUID, enough to tell sessions apart in
// listings.
func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
