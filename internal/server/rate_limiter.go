// Package server throttles inbound frames per connection with a token bucket
// sized by RateLimitConfig.
package server

import (
	"sync"
	"time"
)

// rateLimiter holds Burst tokens and earns one back every
// RefillInterval/Burst. It also counts the frames refused since the last
// accepted one so the client can log a flood once instead of per frame.
type rateLimiter struct {
	mu       sync.Mutex
	burst    float64
	perToken time.Duration
	tokens   float64
	last     time.Time
	dropped  int
	now      func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := max(cfg.Burst, 1)
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	perToken := max(interval/time.Duration(burst), time.Nanosecond)

	return &rateLimiter{
		burst:    float64(burst),
		perToken: perToken,
		tokens:   float64(burst),
		last:     time.Now(),
		now:      time.Now,
	}
}

// take consumes a token. When none is left it returns how long until the
// next one and how many frames in a row have been refused, this one included.
func (rl *rateLimiter) take() (ok bool, retryAfter time.Duration, dropped int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.last); elapsed > 0 {
		rl.tokens = min(rl.burst, rl.tokens+float64(elapsed)/float64(rl.perToken))
	}
	rl.last = now

	if rl.tokens >= 1 {
		rl.tokens--
		rl.dropped = 0
		return true, 0, 0
	}

	rl.dropped++
	retryAfter = time.Duration((1 - rl.tokens) * float64(rl.perToken))
	return false, retryAfter, rl.dropped
}
