package handlers

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// loginLimiter caps login attempts per client IP inside a sliding window.
// Counters live in an expiring cache, so an idle IP costs nothing.
type loginLimiter struct {
	counters *cache.Cache
	max      int64
}

func newLoginLimiter(max int64, window time.Duration) *loginLimiter {
	return &loginLimiter{
		counters: cache.New(window, 2*window),
		max:      max,
	}
}

func (l *loginLimiter) allow(ip string) bool {
	// Add only succeeds for a fresh IP; afterwards the increment carries it.
	_ = l.counters.Add(ip, int64(0), cache.DefaultExpiration)
	n, err := l.counters.IncrementInt64(ip, 1)
	if err != nil {
		// The entry expired between Add and Increment. Start over.
		l.counters.Set(ip, int64(1), cache.DefaultExpiration)
		return true
	}
	return n <= l.max
}
