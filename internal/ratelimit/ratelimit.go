// Package ratelimit throttles how fast clients may be accepted, globally and
// per session.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket refills at rate tokens per second up to capacity.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	rate       float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	return newBucket(rate, capacity, time.Now)
}

func newBucket(rate float64, capacity int, now func() time.Time) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		rate:       rate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes a token when one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// AcceptLimiter bounds client accepts. A zero rate disables that level.
type AcceptLimiter struct {
	mu          sync.Mutex
	global      *TokenBucket
	perSession  map[string]*TokenBucket
	sessionRate float64
	burst       int
	now         func() time.Time
}

// NewAcceptLimiter limits accepts to globalRate per second across all
// sessions and sessionRate per second per session, each with burst capacity.
func NewAcceptLimiter(globalRate, sessionRate float64, burst int) *AcceptLimiter {
	return newAcceptLimiter(globalRate, sessionRate, burst, time.Now)
}

func newAcceptLimiter(globalRate, sessionRate float64, burst int, now func() time.Time) *AcceptLimiter {
	l := &AcceptLimiter{
		perSession:  make(map[string]*TokenBucket),
		sessionRate: sessionRate,
		burst:       burst,
		now:         now,
	}
	if globalRate > 0 {
		l.global = newBucket(globalRate, burst, now)
	}
	return l
}

// AllowConnection reports whether session may accept another client now.
func (l *AcceptLimiter) AllowConnection(session string) bool {
	if l.global != nil && !l.global.Allow() {
		return false
	}
	if l.sessionRate <= 0 {
		return true
	}
	l.mu.Lock()
	bucket, ok := l.perSession[session]
	if !ok {
		bucket = newBucket(l.sessionRate, l.burst, l.now)
		l.perSession[session] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}
