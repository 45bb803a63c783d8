package chat

import (
	"sync"
	"time"
)

// rateLimiter throttles inbound events per connection: burst tokens, with
// one token restored every interval/burst.
type rateLimiter struct {
	mu       sync.Mutex
	tokens   int
	burst    int
	perToken time.Duration
	last     time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	perToken := interval / time.Duration(burst)
	if perToken <= 0 {
		perToken = time.Nanosecond
	}

	return &rateLimiter{
		tokens:   burst,
		burst:    burst,
		perToken: perToken,
		last:     time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(rl.last); elapsed >= rl.perToken {
		refilled := int(elapsed / rl.perToken)
		if rl.tokens += refilled; rl.tokens > rl.burst {
			rl.tokens = rl.burst
		}
		// Advance by whole tokens so fractional refill progress is kept.
		rl.last = rl.last.Add(time.Duration(refilled) * rl.perToken)
	}

	if rl.tokens == 0 {
		return false
	}
	rl.tokens--
	return true
}
