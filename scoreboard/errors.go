package scoreboard

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds surfaced by the score update flow. Controllers map each kind to a
// distinct HTTP status and business code so clients can react differently.
var (
	ErrTokenNotFound     = errors.New("action token not found")
	ErrTokenExpired      = errors.New("action token expired")
	ErrTokenAlreadyUsed  = errors.New("action token already used")
	ErrTokenUserMismatch = errors.New("action token bound to another user")
	ErrSuspiciousTiming  = errors.New("completion time outside accepted bounds")
	ErrRateLimited       = errors.New("action rate limit exceeded")
	ErrInvalidDelta      = errors.New("score delta would make score negative")
	ErrNotRanked         = errors.New("user has no leaderboard entry")
)

// RateLimitError carries the duration after which the user may act again.
// errors.Is(err, ErrRateLimited) matches it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("action rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
