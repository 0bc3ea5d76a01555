package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrAcquireTimeout is returned when a token could not be obtained within the
// caller's wait budget. Adapters classify it as transient.
var ErrAcquireTimeout = errors.New("rate limit: acquire timed out")

// Bucket is a process-local token bucket. All adapter instances targeting the
// same source must share one Bucket; the Registry below guarantees that.
type Bucket struct {
	limiter *rate.Limiter
}

// NewBucket creates a bucket refilling at perSecond tokens/sec with the given
// burst capacity.
func NewBucket(perSecond float64, burst int) *Bucket {
	return &Bucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Acquire blocks until a token is available, the wait budget elapses, or ctx
// is cancelled. A zero maxWait means wait as long as ctx allows.
func (b *Bucket) Acquire(ctx context.Context, maxWait time.Duration) error {
	if maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}
	if err := b.limiter.Wait(ctx); err != nil {
		// Wait reports an unmeetable deadline with its own error value, not a
		// wrapped context.DeadlineExceeded.
		if errors.Is(err, context.Canceled) {
			return err
		}
		return ErrAcquireTimeout
	}
	return nil
}

// Allow reports whether a token is available right now, consuming it if so.
func (b *Bucket) Allow() bool { return b.limiter.Allow() }

// AllowN consumes n tokens if available.
func (b *Bucket) AllowN(n int) bool { return b.limiter.AllowN(time.Now(), n) }

// Tokens returns the number of tokens currently available (may be fractional).
func (b *Bucket) Tokens() float64 { return b.limiter.Tokens() }

// Registry hands out shared buckets by name so concurrent adapter instances
// coordinate on the same limiter.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*Bucket)}
}

// Get returns the bucket registered under name, creating it with the supplied
// rate on first use. Later calls ignore the rate arguments.
func (r *Registry) Get(name string, perSecond float64, burst int) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[name]
	if !ok {
		b = NewBucket(perSecond, burst)
		r.buckets[name] = b
	}
	return b
}
