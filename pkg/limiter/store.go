package limiter

import (
	"context"
	"time"
)

// TTL sentinels. They are the raw values go-redis returns for PTTL -1 and -2
// and are never errors.
const (
	// KeyNoExpiry means the key exists but has no expiry set.
	KeyNoExpiry = time.Duration(-1)
	// KeyMissing means the key does not exist.
	KeyMissing = time.Duration(-2)
)

// CounterStore is the external key-value store the engine delegates to.
// Implementations must be safe for concurrent use across goroutines and, for
// shared backends, across processes.
type CounterStore interface {
	// Get returns the counter stored at key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value int64, ok bool, err error)

	// TTL returns the remaining time to live of key, or KeyNoExpiry/KeyMissing.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// IncrAndMaybeExpire atomically adds amount to key and, only when the new
	// value equals amount, sets the key to expire after window. It returns the
	// new value. Concurrent callers racing on an absent key are serialized so
	// exactly one of them arms the expiry.
	IncrAndMaybeExpire(ctx context.Context, key string, window time.Duration, amount int64) (int64, error)

	// Scan returns every key starting with prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Delete removes keys unconditionally. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// Verifier is implemented by stores that can check, up front, that the
// backend offers the atomicity IncrAndMaybeExpire needs. New calls it so an
// unsupported backend fails at construction rather than mid-traffic.
type Verifier interface {
	Verify(ctx context.Context) error
}
