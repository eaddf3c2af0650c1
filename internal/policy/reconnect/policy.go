// Package reconnect decides when a dropped push channel is dialed again.
package reconnect

import (
	"time"
)

// DefaultDelay is the pause between a channel closing and the next dial.
const DefaultDelay = 5 * time.Second

// Policy is a fixed-delay reconnect policy. There is no backoff growth and no
// jitter.
type Policy struct {
	// Delay is waited before every reconnect attempt.
	Delay time.Duration
	// MaxAttempts caps consecutive failed attempts; 0 means retry forever.
	MaxAttempts int
}

// Default returns the unbounded five second policy.
func Default() Policy {
	return Policy{Delay: DefaultDelay}
}

// ShouldRetry reports whether attempt (1-based, counted since the last
// successful open) may be scheduled.
func (p Policy) ShouldRetry(attempt int) bool {
	if attempt <= 0 {
		return true
	}
	if p.MaxAttempts <= 0 {
		return true
	}
	return attempt <= p.MaxAttempts
}

// Backoff returns the wait before attempt. It is constant.
func (p Policy) Backoff(int) time.Duration {
	if p.Delay <= 0 {
		return DefaultDelay
	}
	return p.Delay
}
