package feeds

import (
	"sync"
	"time"
)

// rebuildWindow caps how often each feed scope may be re-rendered. Counting is
// per fixed hourly window; an exhausted scope serves its last cached body
// until the window rolls over.
type rebuildWindow struct {
	perHour int

	mu     sync.Mutex
	scopes map[string]*rebuildEntry
}

type rebuildEntry struct {
	count       int
	windowStart time.Time
}

func newRebuildWindow(perHour int) *rebuildWindow {
	return &rebuildWindow{perHour: perHour, scopes: make(map[string]*rebuildEntry)}
}

// Allow consumes one rebuild from scope's budget and reports whether the
// rebuild may proceed.
func (w *rebuildWindow) Allow(scope string) bool {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.scopes[scope]
	if !ok || now.Sub(e.windowStart) >= time.Hour {
		e = &rebuildEntry{windowStart: now}
		w.scopes[scope] = e
	}
	if e.count >= w.perHour {
		return false
	}
	e.count++

	if len(w.scopes) > 4096 {
		for k, se := range w.scopes {
			if now.Sub(se.windowStart) >= time.Hour {
				delete(w.scopes, k)
			}
		}
	}
	return true
}
