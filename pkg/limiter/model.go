package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultPrefix is the key prefix shared by every bucket unless WithPrefix
// overrides it. Reset deletes everything under the prefix.
const DefaultPrefix = "rate_limit:"

// DefaultWindow is used when Limit.Window is left at zero.
const DefaultWindow = time.Second

// Limit is the immutable policy of a limiter: at most MaxRequests units of
// usage per Window. Window is armed on the first increment of a bucket and is
// never extended by later increments.
type Limit struct {
	MaxRequests int64
	Window      time.Duration
}

func (l Limit) withDefaults() Limit {
	if l.Window == 0 {
		l.Window = DefaultWindow
	}
	return l
}

func (l Limit) validate() error {
	if l.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be greater than 0, got %d", ErrInvalidLimit, l.MaxRequests)
	}
	if l.Window < time.Millisecond {
		return fmt.Errorf("%w: window must be at least 1ms, got %s", ErrInvalidLimit, l.Window)
	}
	if l.Window%time.Millisecond != 0 {
		return fmt.Errorf("%w: window must be a whole number of milliseconds, got %s", ErrInvalidLimit, l.Window)
	}
	return nil
}

// Limiter is implemented by *RateLimit. Callers that only admit requests can
// depend on this instead of the concrete type.
type Limiter interface {
	Increment(ctx context.Context, amount int64) (int64, error)
	Usage(ctx context.Context) (int64, error)
	HasBeenReached(ctx context.Context) (bool, error)
	WaitTime(ctx context.Context) (time.Duration, error)
}

var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// BucketKey derives the store key for a (resource, client) pair. Both parts
// are escaped so that distinct pairs never map to the same key.
func BucketKey(prefix, resource, client string) string {
	return prefix + keyEscaper.Replace(resource) + ":" + keyEscaper.Replace(client)
}
