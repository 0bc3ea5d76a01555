package ratelimit

import (
	"sync"
	"time"
)

// FailureWindow counts failures per key over a sliding one-hour window. It
// backs the 401 throttle: failures consume budget, successes cost nothing.
type FailureWindow struct {
	mu      sync.Mutex
	perHour int
	keys    map[string]*failureEntry
}

type failureEntry struct {
	count       int
	windowStart time.Time
}

func NewFailureWindow(perHour int) *FailureWindow {
	return &FailureWindow{perHour: perHour, keys: make(map[string]*failureEntry)}
}

// Record notes one failure for key.
func (f *FailureWindow) Record(key string) {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.keys[key]
	if !ok || now.Sub(e.windowStart) > time.Hour {
		f.keys[key] = &failureEntry{count: 1, windowStart: now}
		if len(f.keys) > 8192 {
			f.evictLocked(now)
		}
		return
	}
	e.count++
}

// Blocked reports whether key has exhausted its failure budget, and how long
// until the window resets.
func (f *FailureWindow) Blocked(key string) (bool, time.Duration) {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.keys[key]
	if !ok {
		return false, 0
	}
	elapsed := now.Sub(e.windowStart)
	if elapsed > time.Hour {
		delete(f.keys, key)
		return false, 0
	}
	if e.count < f.perHour {
		return false, 0
	}
	return true, time.Hour - elapsed
}

// evictLocked drops windows older than an hour. Called with mu held.
func (f *FailureWindow) evictLocked(now time.Time) {
	for k, e := range f.keys {
		if now.Sub(e.windowStart) > time.Hour {
			delete(f.keys, k)
		}
	}
}
