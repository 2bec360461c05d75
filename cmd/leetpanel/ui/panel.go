package ui

import (
	"context"
	"fmt"
	"strings"

	"leetpanel/internal/backend"
	"leetpanel/internal/logging"
	"leetpanel/internal/reconcile"
	"leetpanel/internal/transcript"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Machine is the state machine as the panel drives it.
type Machine interface {
	Snapshot() reconcile.State
	Subscribe(fn func(reconcile.State))
	Bootstrap(ctx context.Context) error
	CreateSession(ctx context.Context, username string) error
	ResetSession(ctx context.Context) error
	ReloadForNewQuestion(ctx context.Context) error
}

// Chat is the transcript controller as the panel drives it.
type Chat interface {
	Send(ctx context.Context, text string) error
	Entries() []transcript.Entry
	Subscribe(fn func([]transcript.Entry))
}

// Poller runs background detection.
type Poller interface {
	Start(ctx context.Context)
	Stop()
}

// Config configures the panel.
type Config struct {
	Theme    string
	WordWrap int
	Username string
}

// Layout rows outside the viewport.
const (
	headerHeight = 1
	bannerHeight = 3
	statusHeight = 1
	inputHeight  = 1
	footerHeight = 1
)

type stateMsg reconcile.State

type entriesMsg []transcript.Entry

type opDoneMsg struct {
	op  string
	err error
}

// Model is the bubbletea model for the panel.
type Model struct {
	ctx     context.Context
	machine Machine
	chat    Chat
	poller  Poller
	cfg     Config

	states  chan reconcile.State
	entries chan []transcript.Entry

	styles   Styles
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	state   reconcile.State
	history []transcript.Entry
	busy    string
	err     string
	width   int
	height  int
	ready   bool
}

// New builds the panel model and subscribes it to machine and chat.
func New(ctx context.Context, m Machine, c Chat, p Poller, cfg Config) Model {
	if cfg.WordWrap <= 0 {
		cfg.WordWrap = 80
	}
	styles := NewStyles(ThemeFor(cfg.Theme))

	ti := textinput.New()
	ti.Focus()
	ti.Prompt = "> "
	ti.CharLimit = 4096
	ti.Width = cfg.WordWrap
	ti.PromptStyle = styles.Prompt
	ti.TextStyle = styles.UserInput
	ti.SetValue(cfg.Username)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	model := Model{
		ctx:      ctx,
		machine:  m,
		chat:     c,
		poller:   p,
		cfg:      cfg,
		states:   make(chan reconcile.State, 1),
		entries:  make(chan []transcript.Entry, 1),
		styles:   styles,
		input:    ti,
		viewport: viewport.New(cfg.WordWrap, 20),
		spinner:  sp,
		renderer: newRenderer(styles.Theme, cfg.WordWrap),
		state:    m.Snapshot(),
		busy:     "Detecting",
	}
	m.Subscribe(func(s reconcile.State) { offer(model.states, s) })
	c.Subscribe(func(e []transcript.Entry) { offer(model.entries, e) })
	return model
}

// offer replaces any unread value so a slow UI only ever sees the latest.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func newRenderer(theme Theme, width int) *glamour.TermRenderer {
	style := "light"
	if theme.IsDark {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		logging.UIDebug("glamour renderer unavailable: %v", err)
		return nil
	}
	return r
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.run("bootstrap", func(ctx context.Context) error {
			err := m.machine.Bootstrap(ctx)
			m.poller.Start(ctx)
			if err != nil {
				logging.UIDebug("Bootstrap: %v", err)
			}
			return nil
		}),
		m.waitState(),
		m.waitEntries(),
	)
}

func (m Model) waitState() tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-m.states:
			return stateMsg(s)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) waitEntries() tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-m.entries:
			return entriesMsg(e)
		case <-m.ctx.Done():
			return nil
		}
	}
}

// run executes fn off the UI goroutine and reports back with opDoneMsg.
func (m Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "ctrl+r":
			if m.busy != "" {
				return m, nil
			}
			m.busy, m.err = "Reloading", ""
			return m, m.run("reload", m.machine.ReloadForNewQuestion)
		case "ctrl+x":
			if m.busy != "" || m.state.Session == nil {
				return m, nil
			}
			m.busy, m.err = "Resetting", ""
			return m, m.run("reset", m.machine.ResetSession)
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateMsg:
		m.state = reconcile.State(msg)
		m.layout()
		return m, m.waitState()

	case entriesMsg:
		m.history = []transcript.Entry(msg)
		m.refreshHistory()
		return m, m.waitEntries()

	case opDoneMsg:
		m.busy = ""
		if msg.err != nil {
			m.err = backend.UserMessage(msg.err)
			logging.UIDebug("%s failed: %v", msg.op, msg.err)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit sends the typed text, or creates a session with it when there is
// none yet.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy != "" {
		return m, nil
	}
	m.err = ""

	if m.state.Session == nil {
		m.busy = "Starting session"
		m.input.Reset()
		return m, m.run("create session", func(ctx context.Context) error {
			return m.machine.CreateSession(ctx, text)
		})
	}

	m.busy = "Sending"
	m.input.Reset()
	return m, m.run("send", func(ctx context.Context) error {
		return m.chat.Send(ctx, text)
	})
}

func (m *Model) layout() {
	if m.width == 0 {
		return
	}
	h := m.height - headerHeight - statusHeight - inputHeight - footerHeight - 2
	if m.state.Pending != nil {
		h -= bannerHeight
	}
	if h < 1 {
		h = 1
	}
	if !m.ready {
		m.viewport = viewport.New(m.width, h)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = h
	}
	wrap := m.width - 4
	if wrap > m.cfg.WordWrap {
		wrap = m.cfg.WordWrap
	}
	if wrap < 20 {
		wrap = 20
	}
	m.input.Width = wrap
	m.renderer = newRenderer(m.styles.Theme, wrap)
	m.refreshHistory()
}

func (m *Model) refreshHistory() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return m.styles.Muted.Render(m.emptyHint())
	}
	var sb strings.Builder
	for _, e := range m.history {
		if e.Role == transcript.RoleUser {
			name := "You"
			if e.Pending {
				name += m.styles.Muted.Render(" (sending)")
			}
			sb.WriteString(m.styles.UserName.Render(name) + "\n")
			sb.WriteString(m.styles.UserInput.Render(e.Content))
			sb.WriteString("\n\n")
			continue
		}
		sb.WriteString(m.styles.TutorName.Render("Tutor") + "\n")
		sb.WriteString(m.safeRenderMarkdown(e.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) emptyHint() string {
	switch {
	case !m.state.Question.IsReady():
		return "Open a problem in Chrome to begin."
	case m.state.Session == nil:
		return "Type a username and press Enter to start a session."
	default:
		return "Ask the tutor anything about this problem."
	}
}

// safeRenderMarkdown renders markdown with panic recovery
func (m Model) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()
	if m.renderer != nil && content != "" {
		if out, err := m.renderer.Render(content); err == nil {
			return out
		}
	}
	return content
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if p := m.state.Pending; p != nil {
		b.WriteString(m.styles.Banner.Render(fmt.Sprintf("New problem detected: %d. %s (Ctrl+R to switch)", p.Number, p.Title)))
		b.WriteString("\n")
	}
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.styles.Footer.Render("enter send · ctrl+r reload · ctrl+x reset session · esc quit"))
	return b.String()
}

func (m Model) renderHeader() string {
	title := m.styles.Header.Render("leetpanel")
	q := m.styles.Bold.Render(" " + m.state.Question.Label())
	who := ""
	if s := m.state.Session; s != nil {
		who = " " + m.styles.Badge.Render(s.Username)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, title, q, who)
}

func (m Model) renderStatus() string {
	switch {
	case m.busy != "":
		return m.spinner.View() + " " + m.styles.Muted.Render(m.busy+"...")
	case m.err != "":
		return m.styles.Error.Render(m.err)
	case m.state.Status != "":
		return m.styles.Warning.Render(m.state.Status)
	default:
		return m.styles.Muted.Render(m.state.Phase().String())
	}
}

// Run starts the panel and blocks until the user quits. The poller is
// stopped before Run returns.
func Run(ctx context.Context, m Machine, c Chat, p Poller, cfg Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer p.Stop()

	_, err := tea.NewProgram(New(ctx, m, c, p, cfg), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
