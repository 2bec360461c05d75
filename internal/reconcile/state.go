package reconcile

import (
	"fmt"

	"leetpanel/internal/question"
	"leetpanel/internal/session"
)

// Phase is the derived relationship between tab, question and session.
type Phase int

const (
	PhaseNoTab Phase = iota
	PhaseWrongSite
	PhaseDetecting
	PhaseQuestionError
	PhaseReadyNoSession
	PhaseReadyUninitialized
	PhaseReadyInitialized
)

func (p Phase) String() string {
	switch p {
	case PhaseNoTab:
		return "no_tab"
	case PhaseWrongSite:
		return "wrong_site"
	case PhaseDetecting:
		return "detecting"
	case PhaseQuestionError:
		return "question_error"
	case PhaseReadyNoSession:
		return "ready_no_session"
	case PhaseReadyUninitialized:
		return "ready_uninitialized"
	case PhaseReadyInitialized:
		return "ready_initialized"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is an immutable copy of everything the UI shows.
type State struct {
	// Tab facts from the last applied detection.
	HasTab bool
	OnSite bool
	TabURL string

	Question question.Question
	Pending  *question.Pending

	Session *session.Session
	// Initialized is true once the current (session, question) pair is
	// registered with the backend.
	Initialized bool

	// Username is the last name a session was created with. It survives
	// resets so a reload can start a new session.
	Username string

	// Status is the latest user-facing message; empty when all is well.
	Status string
}

// Phase derives the machine phase. A ready question keeps the ready phases
// even when the tab has since moved away.
func (s State) Phase() Phase {
	if s.Question.IsReady() {
		switch {
		case s.Session == nil:
			return PhaseReadyNoSession
		case !s.Initialized:
			return PhaseReadyUninitialized
		default:
			return PhaseReadyInitialized
		}
	}
	switch {
	case !s.HasTab:
		if s.Question.Status == question.StatusChecking {
			return PhaseDetecting
		}
		return PhaseNoTab
	case !s.OnSite:
		return PhaseWrongSite
	}
	switch s.Question.Status {
	case question.StatusChecking, question.StatusLoading:
		return PhaseDetecting
	default:
		return PhaseQuestionError
	}
}

// clone copies the pointer fields so callers can't reach machine state.
func (s State) clone() State {
	if s.Pending != nil {
		p := *s.Pending
		s.Pending = &p
	}
	if s.Session != nil {
		sess := *s.Session
		s.Session = &sess
	}
	return s
}
