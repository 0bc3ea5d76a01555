package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of one hourly-limit check, carrying everything the
// HTTP edge needs for X-RateLimit-* and Retry-After headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
}

// Hourly tracks per-key request budgets expressed as requests/hour with
// continuous refill. State is process-local; a shared counter store may stand
// in for it when cross-process consistency matters.
type Hourly struct {
	mu      sync.Mutex
	entries map[string]*hourlyEntry
}

type hourlyEntry struct {
	limiter  *rate.Limiter
	perHour  int
	lastSeen time.Time
}

func NewHourly() *Hourly {
	return &Hourly{entries: make(map[string]*hourlyEntry)}
}

// Check consumes one request from key's budget of perHour requests/hour and
// reports the decision. Changing perHour for an existing key resets its bucket.
func (h *Hourly) Check(key string, perHour int) Decision {
	now := time.Now()

	h.mu.Lock()
	e, ok := h.entries[key]
	if !ok || e.perHour != perHour {
		e = &hourlyEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(perHour)/3600.0), perHour),
			perHour: perHour,
		}
		h.entries[key] = e
	}
	e.lastSeen = now
	if len(h.entries) > 8192 {
		h.evictLocked(now)
	}
	h.mu.Unlock()

	d := Decision{Limit: perHour, Reset: now.Add(time.Hour)}
	if e.limiter.Allow() {
		d.Allowed = true
		d.Remaining = int(math.Floor(e.limiter.Tokens()))
		if d.Remaining < 0 {
			d.Remaining = 0
		}
		return d
	}

	// Time until one token refills.
	perToken := time.Duration(float64(time.Hour) / float64(perHour))
	d.Remaining = 0
	d.RetryAfter = perToken
	if d.RetryAfter > time.Hour {
		d.RetryAfter = time.Hour
	}
	return d
}

// evictLocked drops entries idle for more than two hours. Called with mu held.
func (h *Hourly) evictLocked(now time.Time) {
	for k, e := range h.entries {
		if now.Sub(e.lastSeen) > 2*time.Hour {
			delete(h.entries, k)
		}
	}
}
