// Package browser observes the user's Chrome over the DevTools protocol: it
// finds the active tab, reads the problem on it, and reports tab changes.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"leetpanel/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// Config holds browser configuration.
type Config struct {
	// DebuggerURL attaches to a running Chrome (ws:// or http://host:port).
	DebuggerURL string
	// Launch starts Chrome when DebuggerURL is empty. Bin overrides the
	// binary; Flags are extra switches like "--user-data-dir=/tmp/x".
	Launch   bool
	Bin      string
	Flags    []string
	Headless bool
	// EventThrottle drops repeat events for the same target inside the window.
	EventThrottle time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Launch:        true,
		EventThrottle: 250 * time.Millisecond,
	}
}

// Observer owns the DevTools connection.
type Observer struct {
	cfg        Config
	mu         sync.RWMutex
	browser    *rod.Browser
	launched   *launcher.Launcher
	controlURL string
}

// NewObserver creates an observer; it connects lazily.
func NewObserver(cfg Config) *Observer {
	return &Observer{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if o.browser != nil {
		if _, err := o.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("Stale browser connection detected, reconnecting...")
		_ = o.browser.Close()
		o.browser = nil
		o.controlURL = ""
	}

	controlURL, err := o.resolveControlURL()
	if err != nil {
		return err
	}

	// The connection outlives ctx; per-call contexts are applied with Context().
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	o.browser = browser
	o.controlURL = controlURL
	logging.Browser("Connected to Chrome at %s", controlURL)
	return nil
}

// resolveControlURL turns the config into a websocket URL. Caller holds mu.
func (o *Observer) resolveControlURL() (string, error) {
	if u := o.cfg.DebuggerURL; u != "" {
		if strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://") {
			return u, nil
		}
		// http://host:9222 style: ask Chrome for its websocket URL.
		ws, err := launcher.ResolveURL(u)
		if err != nil {
			return "", fmt.Errorf("resolve debugger url %s: %w", u, err)
		}
		return ws, nil
	}

	if !o.cfg.Launch {
		return "", fmt.Errorf("%w: no debugger_url configured and launching is disabled", ErrNoTab)
	}

	l := launcher.New().Headless(o.cfg.Headless)
	if o.cfg.Bin != "" {
		l = l.Bin(o.cfg.Bin)
	}
	for _, rawFlag := range o.cfg.Flags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	o.launched = l
	logging.Browser("Launched Chrome (headless=%v)", o.cfg.Headless)
	return u, nil
}

func (o *Observer) ensureStarted(ctx context.Context) (*rod.Browser, error) {
	o.mu.RLock()
	b := o.browser
	o.mu.RUnlock()
	if b != nil {
		return b, nil
	}
	if err := o.Start(ctx); err != nil {
		return nil, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.browser, nil
}

// ControlURL returns the WebSocket debugger URL.
func (o *Observer) ControlURL() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.controlURL
}

// IsConnected returns whether the browser is connected.
func (o *Observer) IsConnected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.browser != nil
}

// Shutdown closes the connection. A Chrome we launched is also killed; an
// attached one is left running.
func (o *Observer) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var err error
	if o.browser != nil {
		if o.launched != nil {
			err = o.browser.Close()
		}
		o.browser = nil
	}
	if o.launched != nil {
		o.launched.Cleanup()
		o.launched = nil
	}
	o.controlURL = ""
	logging.Browser("Browser observer shut down")
	return err
}

// pageTargets lists observable page targets in browser order.
func pageTargets(b *rod.Browser) ([]*proto.TargetTargetInfo, error) {
	res, err := proto.TargetGetTargets{}.Call(b)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	var pages []*proto.TargetTargetInfo
	for _, info := range res.TargetInfos {
		if info.Type != proto.TargetTargetInfoTypePage || !observable(info.URL) {
			continue
		}
		pages = append(pages, info)
	}
	return pages, nil
}

// ActiveTab returns the page the user is looking at.
func (o *Observer) ActiveTab(ctx context.Context) (Tab, error) {
	b, err := o.ensureStarted(ctx)
	if err != nil {
		return Tab{}, err
	}
	infos, err := pageTargets(b.Context(ctx))
	if err != nil {
		return Tab{}, err
	}

	candidates := make([]tabState, 0, len(infos))
	for _, info := range infos {
		st := tabState{Tab: Tab{ID: string(info.TargetID), URL: info.URL, Title: info.Title}}
		if page, err := b.PageFromTarget(info.TargetID); err == nil {
			if res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{JS: probeJS, ByValue: true}); err == nil && res != nil {
				st.Visible = res.Value.Get("visible").Bool()
				st.Focused = res.Value.Get("focused").Bool()
			}
		}
		candidates = append(candidates, st)
	}

	tab, ok := pickActive(candidates)
	if !ok {
		return Tab{}, ErrNoTab
	}
	logging.BrowserDebug("Active tab %s %s", tab.ID, tab.URL)
	return tab, nil
}

// Extract reads the problem identifier from tab.
func (o *Observer) Extract(ctx context.Context, tab Tab) (Snapshot, error) {
	b, err := o.ensureStarted(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	timer := logging.StartTimer(logging.CategoryBrowser, "extract")
	defer timer.StopWithThreshold(2 * time.Second)

	page, err := b.PageFromTarget(proto.TargetTargetID(tab.ID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: attach to target %s: %v", ErrNoTab, tab.ID, err)
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           extractJS,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return Snapshot{}, fmt.Errorf("evaluate extractor: %w", err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal extractor result: %w", err)
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return Snapshot{}, err
	}
	logging.BrowserDebug("Extracted %+v from %s", snap, tab.URL)
	return snap, nil
}

// TabEvents streams target changes until ctx is done. Events for the same
// target are throttled; a full channel drops the event since consumers
// only use it as a nudge to re-detect.
func (o *Observer) TabEvents(ctx context.Context) (<-chan TabEvent, error) {
	b, err := o.ensureStarted(ctx)
	if err != nil {
		return nil, err
	}
	b = b.Context(ctx)
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		return nil, fmt.Errorf("enable target discovery: %w", err)
	}

	throttler := newEventThrottler(o.cfg.EventThrottle)
	urls := make(map[proto.TargetTargetID]string)
	out := make(chan TabEvent, 16)

	emit := func(ev TabEvent) {
		if ev.Kind != TabClosed && !throttler.Allow(ev.TabID) {
			return
		}
		select {
		case out <- ev:
		default:
			logging.BrowserDebug("Dropping %s event for %s: consumer busy", ev.Kind, ev.TabID)
		}
	}

	wait := b.EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo == nil || e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			urls[e.TargetInfo.TargetID] = e.TargetInfo.URL
			emit(TabEvent{Kind: TabCreated, TabID: string(e.TargetInfo.TargetID), URL: e.TargetInfo.URL})
		},
		func(e *proto.TargetTargetInfoChanged) {
			if e.TargetInfo == nil || e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			id := e.TargetInfo.TargetID
			kind := TabChanged
			if prev, ok := urls[id]; !ok || prev != e.TargetInfo.URL {
				kind = TabNavigated
			}
			urls[id] = e.TargetInfo.URL
			emit(TabEvent{Kind: kind, TabID: string(id), URL: e.TargetInfo.URL})
		},
		func(e *proto.TargetTargetDestroyed) {
			if _, ok := urls[e.TargetID]; !ok {
				return
			}
			delete(urls, e.TargetID)
			throttler.Forget(string(e.TargetID))
			emit(TabEvent{Kind: TabClosed, TabID: string(e.TargetID)})
		},
	)

	go func() {
		defer close(out)
		wait()
		logging.BrowserDebug("Tab event stream stopped: %v", ctx.Err())
	}()
	return out, nil
}
