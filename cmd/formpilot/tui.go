package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"formpilot/internal/orchestrator"
	"formpilot/internal/schema"
	"formpilot/internal/session"
)

// =============================================================================
// CHAT TUI
// =============================================================================

const (
	entryUser      = "user"
	entryAssistant = "assistant"
	entrySystem    = "system"
)

type chatEntry struct {
	role    string
	content string
}

// chatStyles is the palette of the chat screen.
type chatStyles struct {
	header    lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	system    lipgloss.Style
	errorText lipgloss.Style
	input     lipgloss.Style
	footer    lipgloss.Style
}

func defaultChatStyles() chatStyles {
	primary := lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#8BC34A"}
	accent := lipgloss.AdaptiveColor{Light: "#2196F3", Dark: "#4db6ac"}
	muted := lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"}
	return chatStyles{
		header:    lipgloss.NewStyle().Bold(true).Foreground(primary).Padding(0, 1),
		user:      lipgloss.NewStyle().Bold(true).Foreground(primary).MarginTop(1),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(accent).MarginTop(1),
		system:    lipgloss.NewStyle().Italic(true).Foreground(muted),
		errorText: lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")),
		input:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primary).Padding(0, 1),
		footer:    lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
	}
}

// Messages produced by the turn commands.
type replyMsg struct {
	reply *session.Reply
	err   error
}

type resetMsg struct {
	form *schema.Tree
	err  error
}

// chatModel is the bubbletea model of the chat screen.
type chatModel struct {
	ctx      context.Context
	sessions *session.Service
	id       uuid.UUID

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	styles   chatStyles

	entries  []chatEntry
	form     *schema.Tree
	showForm bool
	loading  bool
	ready    bool
	width    int
	height   int
}

func newChatModel(ctx context.Context, svc *session.Service, conv *conversation) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message (/form, /reset, /quit)"
	ti.CharLimit = 4000
	ti.Prompt = "> "
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := chatModel{
		ctx:      ctx,
		sessions: svc,
		id:       conv.id,
		input:    ti,
		spinner:  sp,
		styles:   defaultChatStyles(),
		entries:  append([]chatEntry(nil), conv.history...),
		form:     conv.form,
		showForm: true,
	}
	if len(m.entries) == 0 {
		m.entries = append(m.entries, chatEntry{role: entrySystem, content: "New conversation. Say hello to start filling the form."})
	}
	return m
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) send(text string) tea.Cmd {
	ctx, svc, id := m.ctx, m.sessions, m.id
	return func() tea.Msg {
		reply, err := svc.Chat(ctx, id, text)
		return replyMsg{reply: reply, err: err}
	}
}

func (m chatModel) reset() tea.Cmd {
	ctx, svc, id := m.ctx, m.sessions, m.id
	return func() tea.Msg {
		sess, err := svc.ResetSession(ctx, id)
		if err != nil {
			return resetMsg{err: err}
		}
		return resetMsg{form: sess.Form}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlF:
			m.showForm = !m.showForm
			m.refresh()
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case replyMsg:
		m.loading = false
		if msg.err != nil {
			m.entries = append(m.entries, chatEntry{role: entrySystem, content: m.styles.errorText.Render("error: " + msg.err.Error())})
		} else {
			m.form = msg.reply.Form
			m.entries = append(m.entries, chatEntry{role: entryAssistant, content: msg.reply.Response})
			if msg.reply.Kind == orchestrator.KindCompletion {
				m.entries = append(m.entries, chatEntry{role: entrySystem, content: "Form complete."})
			}
			if !msg.reply.Persisted {
				m.entries = append(m.entries, chatEntry{role: entrySystem, content: "This turn could not be saved."})
			}
		}
		m.refresh()
		return m, nil

	case resetMsg:
		m.loading = false
		if msg.err != nil {
			m.entries = append(m.entries, chatEntry{role: entrySystem, content: m.styles.errorText.Render("error: " + msg.err.Error())})
		} else {
			m.form = msg.form
			m.entries = []chatEntry{{role: entrySystem, content: "Conversation reset."}}
		}
		m.refresh()
		return m, nil
	}

	if !m.loading {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit handles the enter key.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()

	switch parseChatCommand(text) {
	case cmdQuit:
		return m, tea.Quit
	case cmdForm:
		m.showForm = true
		m.refresh()
		return m, nil
	case cmdReset:
		m.loading = true
		return m, tea.Batch(m.reset(), m.spinner.Tick)
	case cmdUnknown:
		m.entries = append(m.entries, chatEntry{role: entrySystem, content: "Unknown command " + text})
		m.refresh()
		return m, nil
	}

	m.entries = append(m.entries, chatEntry{role: entryUser, content: text})
	m.loading = true
	m.refresh()
	return m, tea.Batch(m.send(text), m.spinner.Tick)
}

func (m *chatModel) resize(width, height int) {
	m.width, m.height = width, height

	headerHeight := 1
	inputHeight := 3
	footerHeight := 1
	chatWidth := width - 2
	if chatWidth < 1 {
		chatWidth = 1
	}
	vpHeight := height - headerHeight - inputHeight - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.viewport = viewport.New(chatWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = chatWidth
		m.viewport.Height = vpHeight
	}
	m.input.Width = chatWidth - 6
	m.renderer = newMarkdownRenderer(chatWidth - 4)
	m.refresh()
}

// refresh re-renders the transcript into the viewport.
func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m chatModel) renderHistory() string {
	var sb strings.Builder
	for _, e := range m.entries {
		switch e.role {
		case entryUser:
			sb.WriteString(m.styles.user.Render("You") + "\n")
			sb.WriteString(e.content + "\n")
		case entryAssistant:
			sb.WriteString(m.styles.assistant.Render("formpilot") + "\n")
			sb.WriteString(renderMarkdown(m.renderer, e.content))
		default:
			sb.WriteString(m.styles.system.Render(e.content) + "\n")
		}
	}
	if m.showForm && m.form != nil {
		sb.WriteString("\n" + renderMarkdown(m.renderer, "### Form\n\n"+formMarkdown(m.form)))
	}
	return sb.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	header := m.styles.header.Render(fmt.Sprintf("formpilot · session %s · %s", shortID(m.id), progressLine(m.form)))

	input := m.input.View()
	if m.loading {
		input = m.spinner.View() + " thinking..."
	}
	footer := m.styles.footer.Render("enter send · ctrl+f toggle form · /reset · esc quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.styles.input.Width(m.viewport.Width).Render(input),
		footer,
	)
}
