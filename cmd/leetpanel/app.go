package main

import (
	"context"
	"fmt"

	"leetpanel/internal/backend"
	"leetpanel/internal/browser"
	"leetpanel/internal/config"
	"leetpanel/internal/logging"
	"leetpanel/internal/question"
	"leetpanel/internal/reconcile"
	"leetpanel/internal/session"
	"leetpanel/internal/store"
	"leetpanel/internal/transcript"

	"go.uber.org/zap"
)

// app is the wired set of components every command works against.
type app struct {
	cfg        *config.Config
	kv         store.KV
	sessions   *session.Store
	client     *backend.Client
	observer   *browser.Observer
	machine    *reconcile.Machine
	transcript *transcript.Controller
}

// loadConfig reads and validates the config file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires storage, the backend client, the browser observer, the state
// machine and the transcript controller. Nothing touches the network or the
// browser until the first operation.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := logging.Initialize(cfg.StateDir, cfg.Logging.Options()); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Boot("Starting leetpanel (store=%s ephemeral=%v)", cfg.Store.Kind, ephemeral)

	site, err := question.NewSite(cfg.Site.Pattern)
	if err != nil {
		return nil, err
	}

	var kv store.KV
	if ephemeral {
		kv = store.NewMemory()
	} else {
		kv, err = store.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
	}

	a := &app{
		cfg:      cfg,
		kv:       kv,
		sessions: session.NewStore(kv),
		client:   backend.NewClient(cfg.Backend.URL, cfg.GetBackendTimeout()),
		observer: browser.NewObserver(browserConfig(cfg)),
	}
	a.transcript = transcript.New(a.client, func() *session.Session {
		return a.machine.Snapshot().Session
	})
	a.machine = reconcile.NewMachine(reconcile.Deps{
		Tabs:       a.observer,
		Store:      a.sessions,
		Backend:    a.client,
		Transcript: a.transcript,
		Site:       site,
	})
	return a, nil
}

func browserConfig(cfg *config.Config) browser.Config {
	bc := browser.DefaultConfig()
	bc.DebuggerURL = cfg.Browser.DebuggerURL
	bc.Launch = cfg.Browser.Launch
	bc.Headless = cfg.Browser.Headless
	bc.EventThrottle = cfg.GetEventThrottle()
	return bc
}

// close releases the browser connection and the store.
func (a *app) close() {
	if err := a.observer.Shutdown(context.Background()); err != nil {
		logger.Warn("Browser shutdown failed", zap.Error(err))
	}
	if err := a.kv.Close(); err != nil {
		logger.Warn("Store close failed", zap.Error(err))
	}
	logging.CloseAll()
}

// withApp runs fn against a freshly wired app under the --timeout deadline.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
