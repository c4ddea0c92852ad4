package ipc

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1000") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if rl.Allow("1000") {
		t.Fatal("4th attempt should be rejected")
	}
	if !rl.Allow("2000") {
		t.Fatal("other identities are counted separately")
	}

	rl.Forget("1000")
	if !rl.Allow("1000") {
		t.Fatal("forgotten identity should be allowed again")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, 10*time.Second)
	rl.now = func() time.Time { return now }

	rl.Allow("u")
	rl.Allow("u")
	if rl.Allow("u") {
		t.Fatal("window is full")
	}

	now = now.Add(11 * time.Second)
	if !rl.Allow("u") {
		t.Fatal("attempts outside the window should expire")
	}
}
