package webhooks

import (
	"sync"
	"time"
)

// RateLimiter bounds delivery attempts per endpoint with a token bucket,
// so one slow or flapping subscriber cannot monopolize the worker pool.
type RateLimiter struct {
	buckets      map[string]*bucket
	mutex        sync.RWMutex
	maxTokens    int
	refillPeriod time.Duration
}

type bucket struct {
	tokens       int
	maxTokens    int
	refillPeriod time.Duration
	lastRefill   time.Time
	mutex        sync.Mutex
}

// NewRateLimiter creates a limiter allowing maxRequests deliveries per
// endpoint, refilling one token every period
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:      make(map[string]*bucket),
		maxTokens:    maxRequests,
		refillPeriod: period,
	}
}

// Allow reports whether a delivery to the given webhook may proceed now
func (rl *RateLimiter) Allow(webhookID string) bool {
	rl.mutex.Lock()
	b, exists := rl.buckets[webhookID]
	if !exists {
		b = &bucket{
			tokens:       rl.maxTokens,
			maxTokens:    rl.maxTokens,
			refillPeriod: rl.refillPeriod,
			lastRefill:   time.Now(),
		}
		rl.buckets[webhookID] = b
	}
	rl.mutex.Unlock()

	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.refillLocked()
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Reset forgets the bucket for a webhook, restoring its full allowance
func (rl *RateLimiter) Reset(webhookID string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.buckets, webhookID)
}

// GetRemaining returns the number of deliveries the webhook may still make
// in the current window
func (rl *RateLimiter) GetRemaining(webhookID string) int {
	rl.mutex.RLock()
	b, exists := rl.buckets[webhookID]
	rl.mutex.RUnlock()

	if !exists {
		return rl.maxTokens
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.refillLocked()
	return b.tokens
}

// refillLocked credits tokens for whole elapsed periods. Callers hold the
// bucket mutex.
func (b *bucket) refillLocked() {
	elapsed := time.Since(b.lastRefill)
	if elapsed < b.refillPeriod {
		return
	}
	periods := int(elapsed / b.refillPeriod)
	b.tokens = min(b.tokens+periods, b.maxTokens)
	b.lastRefill = b.lastRefill.Add(time.Duration(periods) * b.refillPeriod)
}
