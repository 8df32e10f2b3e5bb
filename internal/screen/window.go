package screen

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v4"
)

// rateWindow is a sliding window of observation timestamps for one key.
// All access goes through the mutex; gone marks a window removed by the
// janitor so racing callers re-fetch a fresh one.
type rateWindow struct {
	mu     sync.Mutex
	stamps []time.Time
	gone   bool
}

// allowLocked trims stamps older than the window, then tests and records in
// one step: the observation is appended only when under the limit.
func (w *rateWindow) allowLocked(now time.Time, window time.Duration, limit int) bool {
	cutoff := now.Add(-window)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// limiter applies one rate rule (limit per trailing window) across many keys.
type limiter struct {
	clock   clock.Clock
	windows *xsync.Map[string, *rateWindow]
	limit   func() int
	window  func() time.Duration
}

func newLimiter(clk clock.Clock, limit func() int, window func() time.Duration) *limiter {
	return &limiter{
		clock:   clk,
		windows: xsync.NewMap[string, *rateWindow](),
		limit:   limit,
		window:  window,
	}
}

// allow tests and records one observation for key. The test-and-record pair
// is atomic under the window mutex.
func (l *limiter) allow(key string) bool {
	for {
		w, _ := l.windows.LoadOrCompute(key, func() (*rateWindow, bool) {
			return &rateWindow{}, false
		})
		w.mu.Lock()
		if w.gone {
			w.mu.Unlock()
			continue // janitor removed it between load and lock; retry
		}
		ok := w.allowLocked(l.clock.Now(), l.window(), l.limit())
		w.mu.Unlock()
		return ok
	}
}

// prune removes windows whose every stamp has aged out, bounding memory for
// keys that went quiet.
func (l *limiter) prune() {
	now := l.clock.Now()
	window := l.window()
	cutoff := now.Add(-window)

	l.windows.Range(func(key string, w *rateWindow) bool {
		w.mu.Lock()
		kept := w.stamps[:0]
		for _, ts := range w.stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		w.stamps = kept
		if len(w.stamps) == 0 {
			w.gone = true
			w.mu.Unlock()
			l.windows.Delete(key)
			return true
		}
		w.mu.Unlock()
		return true
	})
}

// size returns the number of live windows.
func (l *limiter) size() int {
	return l.windows.Size()
}
