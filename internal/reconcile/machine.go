// Package reconcile keeps the observed tab, the detected question and the
// chat session consistent. Every detection re-derives the question from the
// current tab; results are committed under a mutex and a newer committed
// detection is never overwritten by an older one.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"leetpanel/internal/backend"
	"leetpanel/internal/browser"
	"leetpanel/internal/logging"
	"leetpanel/internal/question"
	"leetpanel/internal/session"
)

// ErrEmptyUsername is returned by CreateSession for a blank name.
var ErrEmptyUsername = errors.New("username is required")

// TabSource finds and reads the observed tab.
type TabSource interface {
	ActiveTab(ctx context.Context) (browser.Tab, error)
	Extract(ctx context.Context, tab browser.Tab) (browser.Snapshot, error)
}

// SessionStore is the durable mirror of the session and initialized map.
type SessionStore interface {
	Load(ctx context.Context) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	Clear(ctx context.Context) error
	IsInitialized(ctx context.Context, sessionID string, number int) (bool, error)
	MarkInitialized(ctx context.Context, sessionID string, number int, t time.Time) error
	DropSession(ctx context.Context, sessionID string) error
}

// Backend is the subset of the chat service the machine drives.
type Backend interface {
	CreateSession(ctx context.Context, username string) (*session.Session, error)
	RegisterQuestion(ctx context.Context, s *session.Session, number int, title string) error
	Transcript(ctx context.Context, s *session.Session) ([]backend.Message, error)
	DeleteSession(ctx context.Context, s *session.Session) error
}

// Transcript receives authoritative transcripts after initialization.
type Transcript interface {
	Replace(msgs []backend.Message)
	Clear()
}

// Clock stamps initialized entries.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Deps are the machine's collaborators. Clock defaults to the wall clock.
type Deps struct {
	Tabs       TabSource
	Store      SessionStore
	Backend    Backend
	Transcript Transcript
	Site       *question.Site
	Clock      Clock
}

// Status lines.
const (
	msgNoTab        = "No browser tab found."
	msgWrongSite    = "Open a problem page to start."
	msgReset        = "Session reset."
	msgRemoteDelete = "Could not delete the remote session; it was cleared locally."
)

type initKey struct {
	sessionID string
	number    int
}

// Machine is the question/session state machine.
type Machine struct {
	deps Deps

	mu       sync.Mutex
	state    State
	lastURL  string
	issued   uint64
	applied  uint64
	inflight map[initKey]struct{}
	subs     []func(State)
}

// NewMachine builds a machine in the Detecting phase. Call Bootstrap next.
func NewMachine(d Deps) *Machine {
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	return &Machine{
		deps:     d,
		state:    State{Question: question.Checking()},
		inflight: make(map[initKey]struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe registers fn to run after every committed change. fn runs on
// the committing goroutine and must not block.
func (m *Machine) Subscribe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// update applies fn to the state under the lock and notifies subscribers.
// fn returns false to signal that nothing changed.
func (m *Machine) update(fn func(s *State) bool) {
	m.mu.Lock()
	if !fn(&m.state) {
		m.mu.Unlock()
		return
	}
	snap := m.state.clone()
	subs := append([]func(State){}, m.subs...)
	m.mu.Unlock()

	logging.SyncDebug("Committed phase=%s question=%q pending=%v", snap.Phase(), snap.Question.Label(), snap.Pending != nil)
	for _, fn := range subs {
		fn(snap)
	}
}

func (m *Machine) setStatus(msg string) {
	m.update(func(s *State) bool {
		if s.Status == msg {
			return false
		}
		s.Status = msg
		return true
	})
}

// Bootstrap reads the durable session and detects the question on the
// active tab. It returns the detection failure, if any; the same failure is
// reflected in the state.
func (m *Machine) Bootstrap(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategorySync, "bootstrap")
	defer timer.Stop()

	sess, err := m.deps.Store.Load(ctx)
	if err != nil {
		logging.SyncWarn("Bootstrap: load session: %v", err)
		sess = nil
	}

	m.update(func(s *State) bool {
		s.Session = sess
		if sess != nil {
			s.Username = sess.Username
		}
		s.Initialized = false
		s.Question = question.Checking()
		s.Pending = nil
		s.Status = ""
		return true
	})
	m.mu.Lock()
	m.lastURL = ""
	m.mu.Unlock()

	return m.detect(ctx, true)
}

// Detect re-derives the question from the active tab. Unless force is set,
// a tab whose URL was already resolved is skipped. Failures only update the
// status.
func (m *Machine) Detect(ctx context.Context, force bool) {
	if err := m.detect(ctx, force); err != nil {
		logging.SyncDebug("Detect: %v", err)
	}
}

func (m *Machine) detect(ctx context.Context, force bool) error {
	m.mu.Lock()
	m.issued++
	ticket := m.issued
	lastURL := m.lastURL
	m.mu.Unlock()

	tab, err := m.deps.Tabs.ActiveTab(ctx)
	if err != nil {
		m.commit(ticket, func(s *State) {
			if s.Question.IsReady() {
				return
			}
			s.HasTab, s.OnSite, s.TabURL = false, false, ""
			s.Question = question.NotApplicable(msgNoTab)
		})
		return fmt.Errorf("active tab: %w", err)
	}

	if !force && tab.URL == lastURL {
		return nil
	}

	if !m.deps.Site.Matches(tab.URL) {
		m.commit(ticket, func(s *State) {
			m.lastURL = tab.URL
			if s.Question.IsReady() {
				return
			}
			s.HasTab, s.OnSite, s.TabURL = true, false, tab.URL
			s.Question = question.NotApplicable(msgWrongSite)
		})
		return question.ErrWrongSite
	}

	m.update(func(s *State) bool {
		if s.Question.IsReady() || m.applied >= ticket {
			return false
		}
		s.HasTab, s.OnSite, s.TabURL = true, true, tab.URL
		s.Question = question.Loading()
		return true
	})

	q, resolveErr := m.extract(ctx, tab)

	var adopted *question.Question
	var sess *session.Session
	applied := m.commit(ticket, func(s *State) {
		if resolveErr == nil {
			m.lastURL = tab.URL
		}
		if cur := s.Question; cur.IsReady() {
			if !q.IsReady() {
				return
			}
			if q.Number == cur.Number {
				if s.Pending != nil {
					s.Pending = nil
					logging.Audit().PendingCleared()
				}
				return
			}
			if s.Pending == nil || s.Pending.Number != q.Number {
				s.Pending = &question.Pending{Number: q.Number, Title: q.Title}
				logging.Sync("New question detected: %s (current %s)", q.Label(), cur.Label())
				logging.Audit().PendingSet(q.Number, q.Title)
			}
			return
		}

		s.HasTab, s.OnSite, s.TabURL = true, true, tab.URL
		s.Question = q
		s.Pending = nil
		s.Initialized = false
		if q.IsReady() {
			logging.Sync("Question ready: %s", q.Label())
			logging.Audit().QuestionAdopted(q.Number, q.Title)
			qq := q
			adopted = &qq
			sess = s.Session
		}
	})
	if !applied {
		logging.SyncDebug("Dropping stale detection #%d for %s", ticket, tab.URL)
		return nil
	}

	if adopted != nil && sess != nil {
		if err := m.initialize(ctx, sess, *adopted); err != nil {
			return err
		}
	}
	return resolveErr
}

// commit applies fn only if no newer detection has been applied.
func (m *Machine) commit(ticket uint64, fn func(s *State)) bool {
	applied := false
	m.update(func(s *State) bool {
		if ticket <= m.applied {
			return false
		}
		m.applied = ticket
		before := s.clone()
		fn(s)
		applied = true
		return !statesEqual(before, *s)
	})
	return applied
}

func (m *Machine) extract(ctx context.Context, tab browser.Tab) (question.Question, error) {
	snap, err := m.deps.Tabs.Extract(ctx, tab)
	if err != nil {
		logging.SyncWarn("Extraction failed for %s: %v", tab.URL, err)
		return question.Failed("Could not read the problem from this page."), fmt.Errorf("%w: %v", question.ErrNoIdentifier, err)
	}
	return question.Resolve(snap)
}

// initialize registers q under sess once and then hydrates the transcript.
// Failures set the status; the question stays ready.
func (m *Machine) initialize(ctx context.Context, sess *session.Session, q question.Question) error {
	key := initKey{sessionID: sess.SessionID, number: q.Number}

	m.mu.Lock()
	if _, busy := m.inflight[key]; busy {
		m.mu.Unlock()
		logging.SyncDebug("Initialization for %v already in flight", key)
		return nil
	}
	m.inflight[key] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, key)
		m.mu.Unlock()
	}()

	done, err := m.deps.Store.IsInitialized(ctx, key.sessionID, key.number)
	if err != nil {
		logging.SyncWarn("Initialized lookup failed: %v", err)
	}
	if !done {
		if err := m.deps.Backend.RegisterQuestion(ctx, sess, q.Number, q.Title); err != nil {
			logging.Audit().Registration(q.Number, false, err.Error())
			m.setStatus(backend.UserMessage(err))
			return err
		}
		logging.Audit().Registration(q.Number, true, "")
		if err := m.deps.Store.MarkInitialized(ctx, key.sessionID, key.number, m.deps.Clock.Now()); err != nil {
			logging.SyncWarn("Recording initialized question failed: %v", err)
		}
	}

	m.update(func(s *State) bool {
		if !sameSession(s.Session, sess) || !s.Question.IsReady() || s.Question.Number != q.Number {
			return false
		}
		s.Initialized = true
		s.Status = ""
		return true
	})

	msgs, err := m.deps.Backend.Transcript(ctx, sess)
	if err != nil {
		logging.SyncWarn("Transcript hydration failed: %v", err)
		m.setStatus(backend.UserMessage(err))
		return err
	}
	if m.deps.Transcript != nil {
		m.deps.Transcript.Replace(msgs)
	}
	return nil
}

// CreateSession starts a backend session for username and initializes the
// ready question, if any.
func (m *Machine) CreateSession(ctx context.Context, username string) error {
	name := strings.TrimSpace(username)
	if name == "" {
		return ErrEmptyUsername
	}

	sess, err := m.deps.Backend.CreateSession(ctx, name)
	if err != nil {
		logging.Audit().SessionCreated(name, false, err.Error())
		m.setStatus(backend.UserMessage(err))
		return err
	}
	if err := m.deps.Store.Save(ctx, sess); err != nil {
		m.setStatus("Could not save the session.")
		return fmt.Errorf("save session: %w", err)
	}
	logging.Audit().SessionCreated(name, true, "")

	var ready *question.Question
	m.update(func(s *State) bool {
		s.Session = sess
		s.Username = name
		s.Initialized = false
		s.Status = ""
		if s.Question.IsReady() {
			q := s.Question
			ready = &q
		}
		return true
	})
	if m.deps.Transcript != nil {
		m.deps.Transcript.Clear()
	}

	if ready != nil {
		return m.initialize(ctx, sess, *ready)
	}
	return nil
}

// ResetSession discards the session. Remote deletion is best effort; local
// state is always cleared. The remote error, if any, is returned.
func (m *Machine) ResetSession(ctx context.Context) error {
	remoteErr := m.destroySession(ctx)

	status := msgReset
	if remoteErr != nil {
		status = msgRemoteDelete
	}
	m.setStatus(status)
	return remoteErr
}

// destroySession deletes the session remotely (best effort) and clears it
// locally together with its initialized entries and the transcript.
func (m *Machine) destroySession(ctx context.Context) error {
	m.mu.Lock()
	sess := m.state.Session
	m.mu.Unlock()

	var remoteErr error
	if sess != nil {
		if err := m.deps.Backend.DeleteSession(ctx, sess); err != nil {
			logging.SyncWarn("Remote session delete failed (continuing): %v", err)
			remoteErr = err
		}
	}

	if err := m.deps.Store.Clear(ctx); err != nil {
		logging.SyncError("Clearing stored session failed: %v", err)
	}
	if sess != nil {
		if err := m.deps.Store.DropSession(ctx, sess.SessionID); err != nil {
			logging.SyncError("Dropping initialized entries failed: %v", err)
		}
	}

	m.update(func(s *State) bool {
		s.Session = nil
		s.Initialized = false
		return true
	})
	if m.deps.Transcript != nil {
		m.deps.Transcript.Clear()
	}
	logging.Audit().SessionReset(remoteErr == nil)
	return remoteErr
}

// ReloadForNewQuestion abandons the current question and session, detects
// again, and starts a new session under the last username if there was one.
func (m *Machine) ReloadForNewQuestion(ctx context.Context) error {
	m.mu.Lock()
	username := m.state.Username
	hadSession := m.state.Session != nil
	m.mu.Unlock()

	m.update(func(s *State) bool {
		if s.Pending != nil {
			logging.Audit().PendingCleared()
		}
		s.Pending = nil
		return true
	})

	if hadSession {
		if err := m.destroySession(ctx); err != nil {
			logging.SyncWarn("Reload: %v", err)
		}
	}

	detectErr := m.Bootstrap(ctx)
	if username == "" {
		return detectErr
	}
	if err := m.CreateSession(ctx, username); err != nil {
		return err
	}
	return detectErr
}

func sameSession(a, b *session.Session) bool {
	return a != nil && b != nil && a.SessionID == b.SessionID
}

func statesEqual(a, b State) bool {
	if a.HasTab != b.HasTab || a.OnSite != b.OnSite || a.TabURL != b.TabURL ||
		a.Question != b.Question || a.Initialized != b.Initialized ||
		a.Username != b.Username || a.Status != b.Status {
		return false
	}
	if (a.Pending == nil) != (b.Pending == nil) || (a.Pending != nil && *a.Pending != *b.Pending) {
		return false
	}
	return a.Session == b.Session || (a.Session != nil && b.Session != nil && *a.Session == *b.Session)
}
