package ratelimiter

import (
	"sync"
	"time"
)

// RateLimiter implements a token bucket for a single identity.
type RateLimiter struct {
	tokens     float64
	capacity   float64
	rate       float64
	lastRefill time.Time
	mu         sync.Mutex
	timer      *time.Timer
	identity   string
	parent     *IdentityRateLimiter
}

// IdentityRateLimiter manages token buckets keyed by identity (IP, email).
// Idle buckets expire so the map doesn't grow without bound.
type IdentityRateLimiter struct {
	limiters       map[string]*RateLimiter
	mu             sync.RWMutex
	rate           float64
	capacity       float64
	expirationTime time.Duration
}

// New creates a limiter allowing `rate` requests per second with bursts up
// to `capacity`. Buckets idle for expirationTime are dropped.
func New(rate float64, capacity float64, expirationTime time.Duration) *IdentityRateLimiter {
	return &IdentityRateLimiter{
		limiters:       make(map[string]*RateLimiter),
		rate:           rate,
		capacity:       capacity,
		expirationTime: expirationTime,
	}
}

func (irl *IdentityRateLimiter) cleanup(identity string) {
	irl.mu.Lock()
	delete(irl.limiters, identity)
	irl.mu.Unlock()
}

func (rl *RateLimiter) resetTimer() {
	if rl.timer != nil {
		rl.timer.Stop()
	}
	rl.timer = time.AfterFunc(rl.parent.expirationTime, func() {
		rl.parent.cleanup(rl.identity)
	})
}

func (irl *IdentityRateLimiter) getLimiter(identity string) *RateLimiter {
	irl.mu.RLock()
	limiter, exists := irl.limiters[identity]
	irl.mu.RUnlock()

	if exists {
		limiter.resetTimer()
		return limiter
	}

	irl.mu.Lock()
	defer irl.mu.Unlock()

	// Double-check after acquiring write lock
	limiter, exists = irl.limiters[identity]
	if exists {
		limiter.resetTimer()
		return limiter
	}

	limiter = &RateLimiter{
		tokens:     irl.capacity,
		capacity:   irl.capacity,
		rate:       irl.rate,
		lastRefill: time.Now(),
		identity:   identity,
		parent:     irl,
	}
	limiter.resetTimer()
	irl.limiters[identity] = limiter
	return limiter
}

// Allow reports whether the identity may proceed, consuming a token if so.
func (irl *IdentityRateLimiter) Allow(identity string) bool {
	return irl.getLimiter(identity).allow()
}

func (rl *RateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

// OncePerSecond is the default login limit.
func OncePerSecond() *IdentityRateLimiter {
	return New(1, 1, 1*time.Hour)
}

func Rps100() *IdentityRateLimiter {
	return New(100, 100, 1*time.Hour)
}

func Rps1000() *IdentityRateLimiter {
	return New(1000, 1000, 1*time.Hour)
}
