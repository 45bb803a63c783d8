package chat

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("Expected call %d within burst to be allowed", i+1)
		}
	}
	if rl.allow() {
		t.Error("Expected call beyond burst to be denied")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(2, 20*time.Millisecond)

	rl.allow()
	rl.allow()
	if rl.allow() {
		t.Fatal("Expected bucket to be drained")
	}

	time.Sleep(30 * time.Millisecond)
	if !rl.allow() {
		t.Error("Expected a token after the refill interval")
	}
}

func TestRateLimiterSanitizesArguments(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if !rl.allow() {
		t.Error("Expected at least one token even with zero burst")
	}
}
