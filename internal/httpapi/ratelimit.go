package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a keyed caller may proceed. Single-instance
// deployments use the in-memory implementation below; multi-instance fleets
// can plug a shared-counter implementation behind the same interface.
type Limiter interface {
	Allow(key string) (ok bool, retryAfter time.Duration)
}

// MemoryLimiter keeps one token bucket per key with TTL-based eviction.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perSec    rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewMemoryLimiter builds a limiter allowing perSecond sustained requests
// with the given burst per key.
func NewMemoryLimiter(perSecond, burst int) *MemoryLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &MemoryLimiter{
		buckets:   make(map[string]*bucket),
		perSec:    rate.Limit(perSecond),
		burst:     burst,
		ttl:       5 * time.Minute,
		lastSweep: time.Now(),
	}
}

// Allow consumes one token from the key's bucket.
func (l *MemoryLimiter) Allow(key string) (bool, time.Duration) {
	if key == "" {
		key = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSec, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	res := b.lim.Reserve()
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// sweep drops buckets idle longer than the TTL. Runs inline at most once per
// minute so no background goroutine is needed.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}
