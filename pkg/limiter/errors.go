package limiter

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIncrement is returned when Increment is called with amount <= 0.
	ErrInvalidIncrement = errors.New("limiter: increment must be greater than zero")

	// ErrIncrementExceedsLimit is returned when a single increment could never
	// fit in the limit. The store is not touched.
	ErrIncrementExceedsLimit = errors.New("limiter: increment exceeds max requests")

	// ErrLimitExceeded is matched by *LimitExceededError. The increment that
	// produced it has already been committed.
	ErrLimitExceeded = errors.New("limiter: rate limit exceeded")

	// ErrUnsupportedBackend is returned at construction when the store lacks
	// atomic scripting (for Redis, servers older than 2.6.0).
	ErrUnsupportedBackend = errors.New("limiter: backend does not support atomic increments")

	// ErrInvalidLimit is returned for a non-positive MaxRequests or a bad window.
	ErrInvalidLimit = errors.New("limiter: invalid limit")
)

// LimitExceededError reports an overflowed bucket. Usage is the committed
// counter value, so Usage-Max is how far over the limit the bucket is.
type LimitExceededError struct {
	Key   string
	Usage int64
	Max   int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limiter: rate limit exceeded for %s: usage %d over max %d", e.Key, e.Usage, e.Max)
}

// Is makes errors.Is(err, ErrLimitExceeded) true.
func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// Overshoot is the number of units past the limit.
func (e *LimitExceededError) Overshoot() int64 {
	return e.Usage - e.Max
}
