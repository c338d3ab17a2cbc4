package router

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-instance fixed one-minute window so one noisy peer
// cannot starve the rest of the hub. Not part of spec.md's core design,
// but not excluded by it either — kept from the teacher's router and
// re-keyed on instance identifier instead of classroom user id.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
}

type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter returns an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimit),
	}
}

// Allow reports whether instanceID may send another message: at most 100
// per window, where a window starts at the first message after the previous
// window (one minute long) has ended.
func (rl *RateLimiter) Allow(instanceID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	limit, exists := rl.clients[instanceID]
	if !exists {
		rl.clients[instanceID] = &clientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= time.Minute {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= 100 {
		return false
	}
	limit.messageCount++
	return true
}

// Cleanup drops clients idle for 5 minutes or more, bounding the limiter's
// memory to active instances.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for instanceID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, instanceID)
		}
	}
}
