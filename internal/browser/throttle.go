package browser

import (
	"sync"
	"time"
)

// eventThrottler drops events for a key that arrive within interval of the
// last allowed one. A nil throttler allows everything.
type eventThrottler struct {
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
	last     map[string]time.Time
}

func newEventThrottler(interval time.Duration) *eventThrottler {
	if interval <= 0 {
		return nil
	}
	return &eventThrottler{
		interval: interval,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

func (t *eventThrottler) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.last[key]; ok {
		if now.Sub(last) < t.interval {
			return false
		}
	}
	t.last[key] = now
	return true
}

// Forget drops state for key, e.g. when its target closes.
func (t *eventThrottler) Forget(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, key)
}
