package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTokenBucket(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	bucket := newBucket(2, 5, clock.now) // 2 tokens per second, capacity of 5

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected initial request %d to be allowed", i)
		}
	}
	if bucket.Allow() {
		t.Error("Expected request to be denied when bucket is empty")
	}

	clock.advance(250 * time.Millisecond)
	if bucket.Allow() {
		t.Error("Expected half a token to be refused")
	}
	clock.advance(250 * time.Millisecond)
	if !bucket.Allow() {
		t.Error("Expected partial refills to add up to a token")
	}

	clock.advance(time.Hour)
	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected refilled request %d to be allowed", i)
		}
	}
	if bucket.Allow() {
		t.Error("Expected refill to stop at capacity")
	}
}

func TestAcceptLimiterPerSession(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newAcceptLimiter(0, 1, 3, clock.now)

	for i := 0; i < 3; i++ {
		if !l.AllowConnection("web") {
			t.Errorf("Expected accept %d to be allowed", i)
		}
	}
	if l.AllowConnection("web") {
		t.Error("Expected accept to be denied after burst")
	}
	if !l.AllowConnection("db") {
		t.Error("Expected a different session to have its own bucket")
	}
	clock.advance(time.Second)
	if !l.AllowConnection("web") {
		t.Error("Expected accept to be allowed after refill")
	}
}

func TestAcceptLimiterGlobal(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newAcceptLimiter(2, 0, 2, clock.now)

	if !l.AllowConnection("a") || !l.AllowConnection("b") {
		t.Error("Expected global burst to be allowed")
	}
	if l.AllowConnection("c") {
		t.Error("Expected accept to be denied due to global limit")
	}
}

func TestAcceptLimiterDisabled(t *testing.T) {
	l := NewAcceptLimiter(0, 0, 5)
	for i := 0; i < 100; i++ {
		if !l.AllowConnection("web") {
			t.Errorf("Expected accept %d to be allowed when limits disabled", i)
		}
	}
}
