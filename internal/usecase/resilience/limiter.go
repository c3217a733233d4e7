package resilience

import (
	"sync"
	"time"
)

// Window is the trailing period over which calls are counted.
const Window = 60 * time.Second

// Limiter is a sliding-window rate limiter keyed by arbitrary strings
// (agent names here). Each key holds the timestamps of its recent calls;
// expired entries are pruned lazily on every check. The check-and-record
// step is atomic per key, so concurrent callers never overshoot the limit.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time // injectable clock for tests
}

// NewLimiter creates an empty Limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow checks whether another call under key fits within limitPerMinute.
// When allowed, the call is recorded atomically; rejected attempts are not
// recorded, so they do not extend the penalty. remaining is the budget left
// after this call; resetAt is when the oldest recorded call ages out of the
// window (the zero time when nothing is recorded).
func (l *Limiter) Allow(key string, limitPerMinute int) (allowed bool, remaining int, resetAt time.Time) {
	// A non-positive limit admits nothing. Nothing is recorded either, so
	// there is no oldest call to age out.
	if limitPerMinute <= 0 {
		return false, 0, time.Time{}
	}

	now := l.now()
	cutoff := now.Add(-Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	calls := l.windows[key]

	// Prune expired entries. Timestamps are appended in order, so the live
	// suffix starts at the first entry past the cutoff.
	live := 0
	for live < len(calls) && !calls[live].After(cutoff) {
		live++
	}
	calls = calls[live:]

	if len(calls) >= limitPerMinute {
		l.windows[key] = calls
		return false, 0, calls[0].Add(Window)
	}

	calls = append(calls, now)
	l.windows[key] = calls
	return true, limitPerMinute - len(calls), calls[0].Add(Window)
}

// Pending returns how many live calls key currently has recorded.
func (l *Limiter) Pending(key string) int {
	now := l.now()
	cutoff := now.Add(-Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, ts := range l.windows[key] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
