package limiter

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testCounterStore runs the behaviour every CounterStore must share.
// advance moves the store's notion of time forward, either on a fake clock
// or by sleeping.
func testCounterStore(t *testing.T, store CounterStore, advance func(time.Duration)) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := "contract:" + uuid.NewString() + ":"
	const window = 200 * time.Millisecond

	t.Run("Absent", func(t *testing.T) {
		key := prefix + "absent"
		v, ok, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if ok || v != 0 {
			t.Errorf("Expected absent key, got (%d, %v)", v, ok)
		}
		ttl, err := store.TTL(ctx, key)
		if err != nil {
			t.Fatalf("TTL failed: %v", err)
		}
		if ttl != KeyMissing {
			t.Errorf("Expected KeyMissing, got %v", ttl)
		}
	})

	t.Run("ExpiryArmedOnce", func(t *testing.T) {
		key := prefix + "armed"
		v, err := store.IncrAndMaybeExpire(ctx, key, window, 3)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if v != 3 {
			t.Fatalf("Expected 3, got %d", v)
		}
		first, err := store.TTL(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if first <= 0 || first > window {
			t.Fatalf("Expected TTL in (0, %v], got %v", window, first)
		}

		advance(50 * time.Millisecond)

		v, err = store.IncrAndMaybeExpire(ctx, key, window, 2)
		if err != nil {
			t.Fatal(err)
		}
		if v != 5 {
			t.Errorf("Expected 5, got %d", v)
		}
		second, err := store.TTL(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if second >= first {
			t.Errorf("Second increment extended the TTL: %v -> %v", first, second)
		}

		got, ok, err := store.Get(ctx, key)
		if err != nil || !ok || got != 5 {
			t.Errorf("Expected Get to return (5, true, nil), got (%d, %v, %v)", got, ok, err)
		}
	})

	t.Run("WindowRollover", func(t *testing.T) {
		key := prefix + "rollover"
		if _, err := store.IncrAndMaybeExpire(ctx, key, window, 4); err != nil {
			t.Fatal(err)
		}

		advance(window + 50*time.Millisecond)

		if _, ok, _ := store.Get(ctx, key); ok {
			t.Error("Expected key to be gone after its window")
		}
		v, err := store.IncrAndMaybeExpire(ctx, key, window, 1)
		if err != nil {
			t.Fatal(err)
		}
		if v != 1 {
			t.Errorf("Expected a fresh counter of 1, got %d", v)
		}
		ttl, _ := store.TTL(ctx, key)
		if ttl <= 0 {
			t.Errorf("Expected the fresh window to have a TTL, got %v", ttl)
		}
	})

	t.Run("ScanAndDelete", func(t *testing.T) {
		scope := prefix + "scan_%*[x]:"
		keys := []string{scope + "a", scope + "b"}
		for _, k := range keys {
			if _, err := store.IncrAndMaybeExpire(ctx, k, time.Minute, 1); err != nil {
				t.Fatal(err)
			}
		}
		// Matches scope only if metacharacters are treated literally.
		decoy := prefix + "scanX%*[x]:c"
		// Matches scope only if the comparison folds case.
		upper := prefix + "SCAN_%*[X]:d"
		for _, k := range []string{decoy, upper} {
			if _, err := store.IncrAndMaybeExpire(ctx, k, time.Minute, 1); err != nil {
				t.Fatal(err)
			}
		}

		found, err := store.Scan(ctx, scope)
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		sort.Strings(found)
		if len(found) != 2 || found[0] != keys[0] || found[1] != keys[1] {
			t.Fatalf("Expected %v, got %v", keys, found)
		}

		if err := store.Delete(ctx, append(found, prefix+"never-existed")...); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		found, err = store.Scan(ctx, scope)
		if err != nil {
			t.Fatal(err)
		}
		if len(found) != 0 {
			t.Errorf("Expected no keys after Delete, got %v", found)
		}
		if err := store.Delete(ctx); err != nil {
			t.Errorf("Delete with no keys should be a no-op, got %v", err)
		}
		if got, _ := store.Scan(ctx, upper); len(got) != 1 || got[0] != upper {
			t.Errorf("Expected only %q under its own prefix, got %v", upper, got)
		}
		if err := store.Delete(ctx, decoy, upper); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		key := prefix + "concurrent"
		const workers = 50

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			armed  int
			errs   []error
			values = make(map[int64]bool)
		)
		wg.Add(workers)
		for range workers {
			go func() {
				defer wg.Done()
				v, err := store.IncrAndMaybeExpire(ctx, key, time.Minute, 1)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				values[v] = true
				if v == 1 {
					armed++
				}
			}()
		}
		wg.Wait()

		if len(errs) > 0 {
			t.Fatalf("Concurrent increments failed: %v", errors.Join(errs...))
		}
		if armed != 1 {
			t.Errorf("Expected exactly one caller to start the window, got %d", armed)
		}
		if len(values) != workers {
			t.Errorf("Expected %d distinct counter values, got %d", workers, len(values))
		}
		v, _, _ := store.Get(ctx, key)
		if v != workers {
			t.Errorf("Expected final counter %d, got %d", workers, v)
		}
	})
}
