package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"leetpanel/internal/browser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingDetector struct {
	calls atomic.Int32
}

func (d *countingDetector) Detect(context.Context, bool) {
	d.calls.Add(1)
}

type fakeEvents struct {
	in  chan browser.TabEvent
	err error
}

func (f *fakeEvents) TabEvents(ctx context.Context) (<-chan browser.TabEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan browser.TabEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-f.in:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func TestPoller_Ticks(t *testing.T) {
	d := &countingDetector{}
	p := NewPoller(d, nil, 10*time.Millisecond)

	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return d.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestPoller_TabEventNudges(t *testing.T) {
	d := &countingDetector{}
	ev := &fakeEvents{in: make(chan browser.TabEvent)}
	p := NewPoller(d, ev, time.Hour)

	p.Start(context.Background())
	defer p.Stop()

	ev.in <- browser.TabEvent{Kind: browser.TabNavigated, TabID: "t1", URL: url42}
	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestPoller_EventErrorKeepsPolling(t *testing.T) {
	d := &countingDetector{}
	p := NewPoller(d, &fakeEvents{err: errors.New("target discovery refused")}, 10*time.Millisecond)

	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return d.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestPoller_RunReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(&countingDetector{}, &fakeEvents{in: make(chan browser.TabEvent)}, time.Hour)

	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPoller_StartStopIdempotent(t *testing.T) {
	p := NewPoller(&countingDetector{}, nil, time.Hour)

	p.Stop()
	p.Start(context.Background())
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}

func TestPoller_DrivesMachine(t *testing.T) {
	h := newHarness(t)
	h.tabs.navigate(url17)
	require.NoError(t, h.m.Bootstrap(context.Background()))

	p := NewPoller(h.m, nil, 10*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	h.tabs.navigate(url42)
	require.Eventually(t, func() bool {
		s := h.m.Snapshot()
		return s.Pending != nil && s.Pending.Number == 42
	}, 2*time.Second, 5*time.Millisecond)
}
