// Package transcript holds the local copy of the chat and sends new turns.
//
// The backend owns the conversation. The local copy is replaced wholesale
// by every fetch; the only local additions are a pending entry while a send
// is in flight and a synthesized error entry when a send fails.
package transcript

import (
	"context"
	"errors"
	"strings"
	"sync"

	"leetpanel/internal/backend"
	"leetpanel/internal/logging"
	"leetpanel/internal/markdown"
	"leetpanel/internal/session"

	"github.com/google/uuid"
)

// ErrEmptyMessage is returned by Send for blank text.
var ErrEmptyMessage = errors.New("message is empty")

// Role is who authored an entry.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

func (r Role) String() string {
	if r == RoleUser {
		return "user"
	}
	return "assistant"
}

// parseRole maps backend role names. Anything not from the user is shown
// as the assistant.
func parseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "human":
		return RoleUser
	default:
		return RoleAssistant
	}
}

// Entry is one turn. Key is stable for the life of the entry so views can
// track it; Pending marks a send that has not completed.
type Entry struct {
	Role    Role
	Content string
	Key     string
	Pending bool
}

// Backend is the chat half of the backend client.
type Backend interface {
	Transcript(ctx context.Context, s *session.Session) ([]backend.Message, error)
	Chat(ctx context.Context, s *session.Session, text string) error
}

// SessionFunc returns the session currently held by the state machine.
type SessionFunc func() *session.Session

// Controller owns the local transcript.
type Controller struct {
	be      Backend
	session SessionFunc

	mu      sync.Mutex
	entries []Entry
	subs    []func([]Entry)
}

// New creates an empty controller.
func New(be Backend, sessionFn SessionFunc) *Controller {
	return &Controller{be: be, session: sessionFn}
}

// Subscribe registers fn to run with a copy of the entries after every change.
func (c *Controller) Subscribe(fn func([]Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Entries returns a copy of the transcript.
func (c *Controller) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// mutate applies fn under the lock and notifies subscribers.
func (c *Controller) mutate(fn func(entries []Entry) []Entry) {
	c.mu.Lock()
	c.entries = fn(c.entries)
	snap := append([]Entry(nil), c.entries...)
	subs := append([]func([]Entry){}, c.subs...)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// Replace swaps in an authoritative transcript. Pending and synthesized
// entries are discarded.
func (c *Controller) Replace(msgs []backend.Message) {
	next := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		next = append(next, Entry{Role: parseRole(m.Role), Content: m.Content, Key: uuid.NewString()})
	}
	c.mutate(func([]Entry) []Entry { return next })
	logging.TranscriptDebug("Replaced transcript with %d entries", len(next))
}

// Clear empties the transcript.
func (c *Controller) Clear() {
	c.mutate(func([]Entry) []Entry { return nil })
}

// Refresh fetches the transcript for the current session.
func (c *Controller) Refresh(ctx context.Context) error {
	s := c.session()
	if !s.Valid() {
		return backend.ErrAuthMissing
	}
	msgs, err := c.be.Transcript(ctx, s)
	if err != nil {
		logging.TranscriptWarn("Refresh failed: %v", err)
		return err
	}
	c.Replace(msgs)
	return nil
}

// Send posts text under the current session. A pending entry is shown
// while the call runs. On success the transcript is fetched again; on
// failure a local error entry takes the pending entry's place.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	s := c.session()
	if !s.Valid() {
		return backend.ErrAuthMissing
	}

	key := uuid.NewString()
	c.mutate(func(entries []Entry) []Entry {
		return append(entries, Entry{Role: RoleUser, Content: text, Key: key, Pending: true})
	})

	err := c.be.Chat(ctx, s, text)
	if err != nil {
		msg := backend.UserMessage(err)
		logging.TranscriptWarn("Send failed: %v", err)
		logging.Audit().Send(len(text), false, err.Error())
		c.mutate(func(entries []Entry) []Entry {
			entries = dropKey(entries, key)
			return append(entries, Entry{Role: RoleAssistant, Content: "**Error:** " + msg, Key: uuid.NewString()})
		})
		return err
	}

	logging.Audit().Send(len(text), true, "")
	c.mutate(func(entries []Entry) []Entry { return dropKey(entries, key) })
	return c.Refresh(ctx)
}

func dropKey(entries []Entry, key string) []Entry {
	out := entries[:0]
	for _, e := range entries {
		if e.Key != key {
			out = append(out, e)
		}
	}
	return out
}

// RenderHTML renders the transcript as an HTML fragment. Assistant content
// goes through the markdown renderer; user content is escaped verbatim.
func (c *Controller) RenderHTML() string {
	entries := c.Entries()

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(`<div class="entry `)
		b.WriteString(e.Role.String())
		if e.Pending {
			b.WriteString(" pending")
		}
		b.WriteString(`">`)
		if e.Role == RoleAssistant {
			b.WriteString(markdown.Render(e.Content))
		} else {
			b.WriteString("<p>")
			b.WriteString(strings.ReplaceAll(markdown.EscapeText(e.Content), "\n", "<br>"))
			b.WriteString("</p>")
		}
		b.WriteString("</div>\n")
	}
	return b.String()
}
