package analysis

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket bounding how many prompts reach the chat
// application. Chat accounts cap image uploads per hour.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
	now      func() time.Time
}

// NewRateLimiter allows maxBurst analyses at once, refilled at perHour.
func NewRateLimiter(maxBurst int, perHour float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 1
	}
	if perHour <= 0 {
		perHour = 30
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     perHour / 3600.0,
		lastTime: time.Now(),
		now:      time.Now,
	}
}

// Allow takes a token if one is available. When none is, it reports how long
// until the next one.
func (rl *RateLimiter) Allow() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true, 0
	}
	waitSec := (1.0 - rl.tokens) / rl.rate
	return false, time.Duration(waitSec * float64(time.Second))
}
