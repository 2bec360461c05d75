package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"leetpanel/internal/question"
)

// ErrNoTab means no page target could be observed.
var ErrNoTab = errors.New("no active browser tab")

// Snapshot is the extractor result for one tab.
type Snapshot = question.Snapshot

// Tab identifies one page target.
type Tab struct {
	ID    string
	URL   string
	Title string
}

// TabEventKind classifies a TabEvent.
type TabEventKind int

const (
	TabCreated TabEventKind = iota
	TabChanged
	TabNavigated
	TabClosed
)

func (k TabEventKind) String() string {
	switch k {
	case TabCreated:
		return "created"
	case TabChanged:
		return "changed"
	case TabNavigated:
		return "navigated"
	case TabClosed:
		return "closed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TabEvent is a change notification for one target.
type TabEvent struct {
	Kind  TabEventKind
	TabID string
	URL   string
}

// tabState is what the active-tab probe learns about one page.
type tabState struct {
	Tab
	Visible bool `json:"visible"`
	Focused bool `json:"focused"`
}

// pickActive chooses the visible and focused page; failing that the first
// visible page; failing that the first page. Candidates arrive in the
// browser's target order, most recently activated first.
func pickActive(candidates []tabState) (Tab, bool) {
	if len(candidates) == 0 {
		return Tab{}, false
	}
	for _, c := range candidates {
		if c.Visible && c.Focused {
			return c.Tab, true
		}
	}
	for _, c := range candidates {
		if c.Visible {
			return c.Tab, true
		}
	}
	return candidates[0].Tab, true
}

// observable filters out browser-internal pages.
func observable(url string) bool {
	for _, prefix := range []string{
		"chrome://",
		"chrome-extension://",
		"devtools://",
		"chrome-untrusted://",
	} {
		if strings.HasPrefix(url, prefix) {
			return false
		}
	}
	return true
}

// extractJS reads the problem title from the page. The numbered title
// element is preferred; document.title is the fallback.
const extractJS = `
() => {
	const text = (sel) => {
		const el = document.querySelector(sel);
		return el ? (el.textContent || '').trim() : '';
	};
	let title = text('[data-cy="question-title"]') ||
		text('div.text-title-large a') ||
		text('div.text-title-large');
	if (!title) {
		title = (document.title || '').replace(/\s*-\s*LeetCode\s*$/i, '').trim();
	}
	const m = title.match(/^\s*(\d+)\s*[.:-]/);
	return { ok: title !== '', questionId: m ? m[1] : '', title };
}
`

// probeJS reports visibility and focus for the active-tab choice.
const probeJS = `() => ({ visible: document.visibilityState === 'visible', focused: document.hasFocus() })`

func decodeSnapshot(raw []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode page snapshot: %w", err)
	}
	s.Title = strings.TrimSpace(s.Title)
	return s, nil
}
