package scoreboard

import (
	"sync"
	"time"
)

// CheckCompletionTime rejects completion times outside [min, max]: below min is
// too fast to be genuine, above max is a stale or replayed result.
func CheckCompletionTime(elapsed, min, max time.Duration) error {
	if elapsed < min || elapsed > max {
		return ErrSuspiciousTiming
	}
	return nil
}

// RateLimiter bounds accepted actions per user over a sliding window. It keeps
// the timestamps of recent accepted actions and evicts entries older than the
// window on every check, so memory stays proportional to recent activity.
type RateLimiter struct {
	window     time.Duration
	maxActions int

	mu     sync.Mutex
	stamps map[uint][]time.Time

	now func() time.Time
}

// NewRateLimiter creates a limiter allowing maxActions per window per user.
func NewRateLimiter(window time.Duration, maxActions int) *RateLimiter {
	return &RateLimiter{
		window:     window,
		maxActions: maxActions,
		stamps:     map[uint][]time.Time{},
		now:        time.Now,
	}
}

// Check records an action for the user if the window has room, otherwise fails
// with a RateLimitError carrying the time until the oldest stamp falls out of
// the window.
func (r *RateLimiter) Check(userID uint) error {
	now := r.now()
	cutoff := now.Add(-r.window)

	r.mu.Lock()
	defer r.mu.Unlock()

	recent := r.stamps[userID][:0]
	for _, t := range r.stamps[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.maxActions {
		r.stamps[userID] = recent
		// A zero budget leaves nothing in the window to wait out, so the
		// caller can only retry after a full window.
		retry := r.window
		if len(recent) > 0 {
			retry = recent[0].Sub(cutoff)
		}
		return &RateLimitError{RetryAfter: retry}
	}

	r.stamps[userID] = append(recent, now)
	return nil
}
