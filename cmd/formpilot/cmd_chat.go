package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"formpilot/internal/logging"
	"formpilot/internal/schema"
	"formpilot/internal/session"
	"formpilot/internal/store"
)

var chatLineMode bool

// chatCmd runs an interactive conversation
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Fill the form in an interactive conversation",
	Long: `Starts an interactive conversation that fills the configured form.

In a terminal this opens the full-screen interface; when stdin is not a
terminal (or with --line) each input line is one turn.

Commands:
  /form    show the form
  /reset   start the conversation over with a blank form
  /quit    leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&sessionName, "session", "s", "default", "Conversation id or name")
	chatCmd.Flags().BoolVar(&chatLineMode, "line", false, "Line mode even on a terminal")
}

// conversation is what a chat front end starts from.
type conversation struct {
	id      uuid.UUID
	form    *schema.Tree
	history []chatEntry
}

// loadConversation resumes a stored conversation or starts one from the
// template.
func loadConversation(ctx context.Context, svc *session.Service, id uuid.UUID) (*conversation, error) {
	conv := &conversation{id: id}
	sess, err := svc.GetSession(ctx, id)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		conv.form = svc.Forms().Template()
		return conv, nil
	case err != nil:
		return nil, err
	}
	conv.form = sess.Form

	msgs, err := svc.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		conv.history = append(conv.history,
			chatEntry{role: entryUser, content: m.Prompt},
			chatEntry{role: entryAssistant, content: m.Response})
	}
	return conv, nil
}

// chatCommand recognises the slash commands shared by both front ends.
type chatCommand int

const (
	cmdNone chatCommand = iota
	cmdForm
	cmdReset
	cmdQuit
	cmdUnknown
)

func parseChatCommand(line string) chatCommand {
	if !strings.HasPrefix(line, "/") {
		return cmdNone
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "/form":
		return cmdForm
	case "/reset":
		return cmdReset
	case "/quit", "/exit":
		return cmdQuit
	default:
		return cmdUnknown
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	id, err := session.ParseSessionID(sessionName)
	if err != nil {
		return fmt.Errorf("invalid session %q: %w", sessionName, err)
	}

	a, err := openApp(ctx, cfg, appOptions{pipeline: true, watch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := loadConversation(ctx, a.sessions, id)
	if err != nil {
		return err
	}

	if chatLineMode || !term.IsTerminal(int(os.Stdin.Fd())) {
		return runLineChat(ctx, a.sessions, conv, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	logging.Boot("Starting chat interface for session %s", id)
	p := tea.NewProgram(newChatModel(ctx, a.sessions, conv), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// runLineChat treats every input line as one turn.
func runLineChat(ctx context.Context, svc *session.Service, conv *conversation, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "session %s (%s)\n", conv.id, progressLine(conv.form))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch parseChatCommand(line) {
		case cmdQuit:
			return nil
		case cmdForm:
			fmt.Fprint(out, formText(conv.form))
			continue
		case cmdReset:
			sess, err := svc.ResetSession(ctx, conv.id)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			conv.form = sess.Form
			fmt.Fprintln(out, "Conversation reset.")
			continue
		case cmdUnknown:
			fmt.Fprintf(out, "unknown command %s (try /form, /reset, /quit)\n", line)
			continue
		}

		reply, err := svc.Chat(ctx, conv.id, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		conv.form = reply.Form
		fmt.Fprintln(out, reply.Response)
		if !reply.Persisted {
			fmt.Fprintln(out, "warning: this turn could not be saved")
		}
	}
}
