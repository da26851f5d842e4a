// Package ratelimit implements the per-IP token bucket of spec §4.2,
// generalized from the teacher's sliding-window rateLimiter
// (internal/smtp/server.go) into a configurable points/duration bucket
// with a reset operation and a typed exhaustion error.
package ratelimit

import (
	"sync"
	"time"

	"github.com/vaultsandbox/gateway/internal/gwerrors"
)

type bucket struct {
	remaining int
	resetAt   time.Time
}

// Limiter is a per-key token bucket. A key is refilled to Points tokens
// every Duration; Consume decrements one token or returns
// *gwerrors.RateLimitExceeded. The zero value is not usable; use New.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	enabled  bool
	points   int
	duration time.Duration
	now      func() time.Time
}

// New constructs a Limiter. When enabled is false, Consume always
// succeeds and Reset is a no-op, matching spec §4.2 "When disabled, all
// operations succeed."
func New(enabled bool, points int, duration time.Duration) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		enabled:  enabled,
		points:   points,
		duration: duration,
		now:      time.Now,
	}
	if enabled {
		go l.cleanup()
	}
	return l
}

// Consume decrements one token from key's bucket, creating it on first
// use. On exhaustion it returns *gwerrors.RateLimitExceeded carrying the
// remaining window in milliseconds.
func (l *Limiter) Consume(key string) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{remaining: l.points, resetAt: now.Add(l.duration)}
		l.buckets[key] = b
	}

	if b.remaining <= 0 {
		return &gwerrors.RateLimitExceeded{RetryAfterMs: b.resetAt.Sub(now).Milliseconds()}
	}
	b.remaining--
	return nil
}

// Reset clears key's bucket entirely.
func (l *Limiter) Reset(key string) {
	if !l.enabled {
		return
	}
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.duration * 2)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		now := l.now()
		for key, b := range l.buckets {
			if now.After(b.resetAt) {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}
