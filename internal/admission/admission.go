package admission

import (
	"sync"
	"time"
)

// Limiter gates cache-miss requests with a token bucket per client identity
// (source IP). Cache hits never consult the limiter, so repeat traffic for
// already-cached data is unaffected. Buckets are created lazily, start full
// so a new client can populate the cache in a burst, and refill by whole
// elapsed seconds only.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	rate     int // tokens added per elapsed second

	now func() time.Time // swapped in tests
}

type bucket struct {
	tokens       int
	lastRefillAt time.Time
}

// NewLimiter returns a Limiter with the given bucket capacity and refill
// rate in tokens per second.
func NewLimiter(capacity, ratePerSecond int) *Limiter {
	if capacity <= 0 {
		capacity = 50
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return &Limiter{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		rate:     ratePerSecond,
		now:      time.Now,
	}
}

// TryAcquire refills the client's bucket for the elapsed whole seconds,
// then consumes one token if available. Returns false when the client is
// out of tokens; the caller must surface that as a distinct rate-limited
// outcome, never a silent drop.
func (l *Limiter) TryAcquire(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefillAt: now}
		l.buckets[clientID] = b
	} else {
		elapsed := int(now.Sub(b.lastRefillAt).Seconds())
		if elapsed > 0 {
			b.tokens += elapsed * l.rate
			if b.tokens > l.capacity {
				b.tokens = l.capacity
			}
		}
		b.lastRefillAt = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Clients returns the number of client identities currently tracked.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
