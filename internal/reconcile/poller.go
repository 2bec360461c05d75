package reconcile

import (
	"context"
	"sync"
	"time"

	"leetpanel/internal/browser"
	"leetpanel/internal/logging"

	"golang.org/x/sync/errgroup"
)

// Detector re-derives the question from the active tab.
type Detector interface {
	Detect(ctx context.Context, force bool)
}

// EventSource streams tab changes. The channel closes when ctx is done.
type EventSource interface {
	TabEvents(ctx context.Context) (<-chan browser.TabEvent, error)
}

// Poller drives detection from a fixed interval and from tab events. All
// detections run on one loop, so they never overlap.
type Poller struct {
	detector Detector
	events   EventSource
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller. events may be nil for interval-only polling.
func NewPoller(d Detector, events EventSource, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{detector: d, events: events, interval: interval}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	nudge := make(chan struct{}, 1)

	if p.events != nil {
		g.Go(func() error {
			ch, err := p.events.TabEvents(gctx)
			if err != nil {
				logging.SyncWarn("Tab events unavailable, polling only: %v", err)
				return nil
			}
			for ev := range ch {
				logging.SyncDebug("Tab %s %s %s", ev.Kind, ev.TabID, ev.URL)
				select {
				case nudge <- struct{}{}:
				default:
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			case <-nudge:
			}
			p.detector.Detect(gctx, false)
		}
	})

	return g.Wait()
}

// Start runs the poller in the background. A second Start is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done

	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logging.SyncError("Poller stopped: %v", err)
		}
	}()
	logging.Sync("Poller started (interval %s)", p.interval)
}

// Stop cancels the background loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logging.Sync("Poller stopped")
}
