package utils

import (
	"sync"
	"time"
)

// QueryLimiter throttles outgoing queries to an external service to a
// fixed number of operations per second. Safe for concurrent use.
type QueryLimiter struct {
	opsPerSec  int
	mu         sync.Mutex
	lastReset  time.Time
	opsThisSec int
}

// NewQueryLimiter creates a limiter allowing opsPerSec operations per
// second (0 or negative = unlimited)
func NewQueryLimiter(opsPerSec int) *QueryLimiter {
	return &QueryLimiter{
		opsPerSec: opsPerSec,
		lastReset: time.Now(),
	}
}

// Wait blocks until the caller may perform one operation. Returns
// immediately when no limit is configured or the budget for the current
// second is not exhausted.
func (l *QueryLimiter) Wait() {
	if l == nil || l.opsPerSec <= 0 {
		return
	}

	for {
		l.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(l.lastReset)

		// Reset the counter every second
		if elapsed >= time.Second {
			l.lastReset = now
			l.opsThisSec = 0
			elapsed = 0
		}

		if l.opsThisSec < l.opsPerSec {
			l.opsThisSec++
			l.mu.Unlock()
			return
		}

		// Budget exhausted, wait for the next second
		sleepDuration := time.Second - elapsed
		l.mu.Unlock()

		if sleepDuration > 0 {
			time.Sleep(sleepDuration)
		}
	}
}
