package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing requestsPerSecond per key with
// the given burst. A non-positive rate disables limiting.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()
	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, exists = r.limiters[key]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(r.rate, r.burst)
	r.limiters[key] = limiter
	return limiter
}

// Allow reports whether one more request for key fits in its bucket.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.rate <= 0 {
		return true
	}
	return r.getLimiter(key).Allow()
}

// Forget drops the bucket of key, e.g. after its session ended.
func (r *RateLimiter) Forget(key string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.limiters, key)
	r.mu.Unlock()
}
