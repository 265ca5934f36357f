package gateway

import (
	"sync"
	"time"
)

// Default per-client limits.
const (
	DefaultRequestsPerMinute = 120
	DefaultMaxConcurrent     = 10
)

// RateLimits bounds how hard one dashboard can drive the gateway.
type RateLimits struct {
	RequestsPerMinute int
	MaxConcurrent     int
}

func (l RateLimits) withDefaults() RateLimits {
	if l.RequestsPerMinute <= 0 {
		l.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = DefaultMaxConcurrent
	}
	return l
}

// ClientRateLimiter implements sliding window rate limiting per client
type ClientRateLimiter struct {
	mu                 sync.Mutex
	requestsPerMinute  int
	maxConcurrent      int
	requests           []time.Time
	concurrentRequests int
	now                func() time.Time
}

// NewClientRateLimiter creates a rate limiter; zero limits take defaults.
func NewClientRateLimiter(limits RateLimits) *ClientRateLimiter {
	limits = limits.withDefaults()
	return &ClientRateLimiter{
		requestsPerMinute: limits.RequestsPerMinute,
		maxConcurrent:     limits.MaxConcurrent,
		now:               time.Now,
	}
}

// Acquire admits one request and records its start. The returned code is
// RateLimitExceeded or TooManyConcurrent when the request is refused.
func (r *ClientRateLimiter) Acquire() (bool, int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests >= r.maxConcurrent {
		return false, TooManyConcurrent, "too many concurrent requests"
	}

	now := r.now()
	r.prune(now)
	if len(r.requests) >= r.requestsPerMinute {
		return false, RateLimitExceeded, "rate limit exceeded"
	}

	r.requests = append(r.requests, now)
	r.concurrentRequests++
	return true, 0, ""
}

// Release records the end of a request admitted by Acquire.
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// UpdateLimits updates the rate limits
func (r *ClientRateLimiter) UpdateLimits(limits RateLimits) {
	limits = limits.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestsPerMinute = limits.RequestsPerMinute
	r.maxConcurrent = limits.MaxConcurrent
}

// GetStats returns current rate limiter statistics
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.requests), r.concurrentRequests
}

func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.requests) && !r.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.requests = append(r.requests[:0], r.requests[i:]...)
	}
}
