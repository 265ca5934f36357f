package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientRateLimiter_Acquire(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter := NewClientRateLimiter(RateLimits{RequestsPerMinute: 10, MaxConcurrent: 5})

		for i := 0; i < 5; i++ {
			allowed, code, reason := limiter.Acquire()
			assert.True(t, allowed)
			assert.Zero(t, code)
			assert.Empty(t, reason)
		}
	})

	t.Run("should reject when concurrent limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiter(RateLimits{RequestsPerMinute: 100, MaxConcurrent: 3})

		for i := 0; i < 3; i++ {
			limiter.Acquire()
		}

		allowed, code, reason := limiter.Acquire()
		assert.False(t, allowed)
		assert.Equal(t, TooManyConcurrent, code)
		assert.Equal(t, "too many concurrent requests", reason)

		limiter.Release()
		allowed, _, _ = limiter.Acquire()
		assert.True(t, allowed)
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiter(RateLimits{RequestsPerMinute: 5, MaxConcurrent: 10})

		for i := 0; i < 5; i++ {
			limiter.Acquire()
			limiter.Release()
		}

		allowed, code, reason := limiter.Acquire()
		assert.False(t, allowed)
		assert.Equal(t, RateLimitExceeded, code)
		assert.Equal(t, "rate limit exceeded", reason)
	})

	t.Run("should allow requests after window expires", func(t *testing.T) {
		limiter := NewClientRateLimiter(RateLimits{RequestsPerMinute: 2, MaxConcurrent: 10})
		now := time.Now()
		limiter.now = func() time.Time { return now }

		limiter.Acquire()
		limiter.Release()
		limiter.Acquire()
		limiter.Release()

		allowed, _, _ := limiter.Acquire()
		assert.False(t, allowed)

		now = now.Add(61 * time.Second)
		allowed, _, _ = limiter.Acquire()
		assert.True(t, allowed)

		count, _ := limiter.GetStats()
		assert.Equal(t, 1, count)
	})
}

func TestClientRateLimiter_Defaults(t *testing.T) {
	limiter := NewClientRateLimiter(RateLimits{})
	assert.Equal(t, DefaultRequestsPerMinute, limiter.requestsPerMinute)
	assert.Equal(t, DefaultMaxConcurrent, limiter.maxConcurrent)

	limiter.UpdateLimits(RateLimits{RequestsPerMinute: 1, MaxConcurrent: 1})
	assert.Equal(t, 1, limiter.requestsPerMinute)
	assert.Equal(t, 1, limiter.maxConcurrent)
}

func TestClientRateLimiter_ReleaseNeverNegative(t *testing.T) {
	limiter := NewClientRateLimiter(RateLimits{})
	limiter.Release()

	_, concurrent := limiter.GetStats()
	assert.Zero(t, concurrent)
}

func TestClientRateLimiter_Concurrent(t *testing.T) {
	limiter := NewClientRateLimiter(RateLimits{RequestsPerMinute: 1000, MaxConcurrent: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := limiter.Acquire(); ok {
				limiter.Release()
			}
		}()
	}
	wg.Wait()

	count, concurrent := limiter.GetStats()
	assert.Equal(t, 50, count)
	assert.Zero(t, concurrent)
}
