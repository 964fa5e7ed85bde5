// Package ratelimit provides per-project request rate limiting. The local
// token bucket is the default backend; a Redis sliding-window backend is
// available for multi-instance deployments.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates requests per key. Allow never partially consumes budget on
// rejection.
type Limiter interface {
	Allow(ctx context.Context, key string, cost int) (bool, error)
	Close() error
}

// NoOpLimiter always allows requests (for testing or disabled rate limiting).
type NoOpLimiter struct{}

func (n *NoOpLimiter) Allow(ctx context.Context, key string, cost int) (bool, error) {
	return true, nil
}

func (n *NoOpLimiter) Close() error {
	return nil
}

// bucket is one key's token bucket. Tokens refill continuously at the time
// of each check, so no background timer is needed and behavior is fully
// determined by the injected clock.
type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// LocalLimiter keeps per-key token buckets in process memory. State is not
// persisted; it resets on restart.
type LocalLimiter struct {
	capacity float64
	rate     float64 // tokens per second
	now      func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// NewLocalLimiter builds a limiter allowing `requests` per `window` for each
// key. The now function defaults to time.Now; tests inject their own clock.
func NewLocalLimiter(requests int, window time.Duration, now func() time.Time) *LocalLimiter {
	if now == nil {
		now = time.Now
	}
	return &LocalLimiter{
		capacity: float64(requests),
		rate:     float64(requests) / window.Seconds(),
		now:      now,
		buckets:  make(map[string]*bucket),
	}
}

// Allow consumes cost tokens from the key's bucket if available. Locking is
// scoped to the single bucket being checked, never across keys.
func (l *LocalLimiter) Allow(ctx context.Context, key string, cost int) (bool, error) {
	if cost <= 0 {
		cost = 1
	}

	b := l.bucket(key)
	ts := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := ts.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.rate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
	}
	b.last = ts

	if b.tokens < float64(cost) {
		return false, nil
	}
	b.tokens -= float64(cost)
	return true, nil
}

func (l *LocalLimiter) bucket(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b = &bucket{tokens: l.capacity, last: l.now()}
	l.buckets[key] = b
	return b
}

func (l *LocalLimiter) Close() error {
	return nil
}
