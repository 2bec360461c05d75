package ui

import (
	"context"
	"errors"
	"sync"
	"testing"

	"leetpanel/internal/backend"
	"leetpanel/internal/question"
	"leetpanel/internal/reconcile"
	"leetpanel/internal/session"
	"leetpanel/internal/transcript"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMachine struct {
	mu        sync.Mutex
	state     reconcile.State
	created   []string
	resets    int
	reloads   int
	createErr error // returned by CreateSession
}

func (f *fakeMachine) Snapshot() reconcile.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeMachine) Subscribe(func(reconcile.State)) {}

func (f *fakeMachine) Bootstrap(context.Context) error { return nil }

func (f *fakeMachine) CreateSession(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, username)
	return f.createErr
}

func (f *fakeMachine) ResetSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeMachine) ReloadForNewQuestion(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

type fakeChat struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeChat) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChat) Entries() []transcript.Entry { return nil }

func (f *fakeChat) Subscribe(func([]transcript.Entry)) {}

type fakePoller struct{}

func (fakePoller) Start(context.Context) {}
func (fakePoller) Stop() {}

func newTestModel(t *testing.T, st reconcile.State) (Model, *fakeMachine, *fakeChat) {
	t.Helper()
	fm := &fakeMachine{state: st}
	fc := &fakeChat{}
	m := New(context.Background(), fm, fc, fakePoller{}, Config{Theme: "light", WordWrap: 60})

	// Bootstrap finished.
	next, _ := m.Update(opDoneMsg{op: "bootstrap"})
	next, _ = next.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model), fm, fc
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	m.input.SetValue(s)
	return m
}

var ready = question.Ready(42, "Trapping Rain Water")

func TestPanel_EnterWithoutSessionCreatesOne(t *testing.T) {
	m, fm, fc := newTestModel(t, reconcile.State{Question: ready})
	m = typeText(t, m, "  ada ")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, "Starting session", m.busy)
	assert.Empty(t, m.input.Value())

	done := cmd().(opDoneMsg)
	assert.NoError(t, done.err)
	assert.Equal(t, []string{"ada"}, fm.created)
	assert.Empty(t, fc.sent)

	m, _ = update(t, m, done)
	assert.Empty(t, m.busy)
}

func TestPanel_EnterWithSessionSends(t *testing.T) {
	st := reconcile.State{Question: ready, Session: &session.Session{SessionID: "s1", Username: "ada", AuthToken: "tok"}}
	m, fm, fc := newTestModel(t, st)
	m = typeText(t, m, "what is the invariant?")

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	cmd()

	assert.Equal(t, []string{"what is the invariant?"}, fc.sent)
	assert.Empty(t, fm.created)
}

func TestPanel_EnterIgnoredWhileBusy(t *testing.T) {
	m, fm, _ := newTestModel(t, reconcile.State{Question: ready})
	m.busy = "Sending"
	m = typeText(t, m, "ada")

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, fm.created)
}

func TestPanel_OperationErrorShowsUserMessage(t *testing.T) {
	m, _, _ := newTestModel(t, reconcile.State{Question: ready})
	m, _ = update(t, m, opDoneMsg{op: "create session", err: &backend.RejectionError{Status: 409, Message: "Username already taken"}})

	assert.Equal(t, "Username already taken", m.err)
	assert.Contains(t, m.View(), "Username already taken")

	m, _ = update(t, m, opDoneMsg{op: "send", err: &backend.NetworkError{Op: "send", Err: errors.New("refused")}})
	assert.Contains(t, m.err, "Could not reach the chat service")
}

func TestPanel_PendingBanner(t *testing.T) {
	m, fm, _ := newTestModel(t, reconcile.State{Question: ready})
	assert.NotContains(t, m.View(), "New problem detected")

	m, cmd := update(t, m, stateMsg(reconcile.State{
		Question: ready,
		Pending:  &question.Pending{Number: 17, Title: "Letter Combinations of a Phone Number"},
	}))
	assert.NotNil(t, cmd, "keeps listening for state")
	assert.Contains(t, m.View(), "New problem detected: 17. Letter Combinations of a Phone Number")

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 1, fm.reloads)
}

func TestPanel_ResetNeedsSession(t *testing.T) {
	m, fm, _ := newTestModel(t, reconcile.State{Question: ready})
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlX})
	assert.Nil(t, cmd)

	m, _ = update(t, m, stateMsg(reconcile.State{Question: ready, Session: &session.Session{SessionID: "s1", Username: "ada", AuthToken: "tok"}}))
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlX})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 1, fm.resets)
}

func TestPanel_Quit(t *testing.T) {
	m, _, _ := newTestModel(t, reconcile.State{})
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestPanel_RendersHistory(t *testing.T) {
	m, _, _ := newTestModel(t, reconcile.State{Question: ready})
	m, _ = update(t, m, entriesMsg([]transcript.Entry{
		{Role: transcript.RoleUser, Content: "hint please", Key: "a"},
		{Role: transcript.RoleUser, Content: "still there?", Key: "b", Pending: true},
	}))

	out := m.renderHistory()
	assert.Contains(t, out, "hint please")
	assert.Contains(t, out, "(sending)")
}

func TestPanel_EmptyHint(t *testing.T) {
	m, _, _ := newTestModel(t, reconcile.State{Question: question.NotApplicable("x")})
	assert.Contains(t, m.renderHistory(), "Open a problem")

	m.state = reconcile.State{Question: ready}
	assert.Contains(t, m.renderHistory(), "Type a username")
}

func TestOffer_KeepsLatest(t *testing.T) {
	ch := make(chan int, 1)
	offer(ch, 1)
	offer(ch, 2)
	assert.Equal(t, 2, <-ch)
}

func TestThemeFor(t *testing.T) {
	assert.True(t, ThemeFor("dark").IsDark)
	assert.False(t, ThemeFor("light").IsDark)

	t.Setenv("COLORFGBG", "15;0")
	assert.True(t, ThemeFor("auto").IsDark)

	t.Setenv("COLORFGBG", "0;15")
	assert.False(t, ThemeFor("auto").IsDark)
}
