package limits

import (
	"sync"

	"golang.org/x/time/rate"
)

// FrameLimiter applies a per-connection token bucket to every inbound frame.
// This sits in front of message dispatch: a flooding or buggy client gets
// RATE_LIMITED errors instead of starving the other members of its room.
type FrameLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewFrameLimiter allows `burst` frames immediately and `perSecond` sustained.
func NewFrameLimiter(perSecond float64, burst int) *FrameLimiter {
	return &FrameLimiter{
		limiters: make(map[int64]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow consumes one token for the connection, creating its bucket on first
// use.
func (f *FrameLimiter) Allow(connID int64) bool {
	f.mu.Lock()
	lim, ok := f.limiters[connID]
	if !ok {
		lim = rate.NewLimiter(f.rate, f.burst)
		f.limiters[connID] = lim
	}
	f.mu.Unlock()
	return lim.Allow()
}

// Forget drops the connection's bucket after disconnect.
func (f *FrameLimiter) Forget(connID int64) {
	f.mu.Lock()
	delete(f.limiters, connID)
	f.mu.Unlock()
}
