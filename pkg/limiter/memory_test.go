package limiter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStore_Contract(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	testCounterStore(t, store, clock.Advance)
}

func TestMemoryStore_TTLTruncatedToMilliseconds(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	if _, err := store.IncrAndMaybeExpire(ctx, "k", time.Second, 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(250*time.Millisecond + 400*time.Microsecond)

	ttl, err := store.TTL(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if ttl != 749*time.Millisecond {
		t.Errorf("Expected 749ms, got %v", ttl)
	}
}

func TestMemoryStore_ExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	store.IncrAndMaybeExpire(ctx, "k", time.Second, 1)

	clock.Advance(999 * time.Millisecond)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("Key should still be live 1ms before expiry")
	}

	clock.Advance(time.Millisecond)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Error("Key should be gone exactly at expiry")
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.IncrAndMaybeExpire(ctx, "k", time.Second, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if _, _, err := store.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from Get, got %v", err)
	}

	if v, ok, _ := store.Get(context.Background(), "k"); ok {
		t.Errorf("Cancelled increment must not be applied, found %d", v)
	}
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		store.IncrAndMaybeExpire(ctx, fmt.Sprintf("client_%d", i), time.Second, 1)
	}
	store.IncrAndMaybeExpire(ctx, "long", 2*time.Hour, 1)
	clock.Advance(time.Hour)
	store.IncrAndMaybeExpire(ctx, "fresh", time.Second, 1)

	n, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1000 {
		t.Errorf("Expected 1000 purged entries, got %d", n)
	}
	if len(store.entries) != 2 {
		t.Errorf("Expected 2 live entries left, got %d", len(store.entries))
	}
	if v, ok, _ := store.Get(ctx, "long"); !ok || v != 1 {
		t.Errorf("Live entry must survive a purge, got %d (present=%t)", v, ok)
	}

	if n, _ := store.PurgeExpired(ctx); n != 0 {
		t.Errorf("Expected a second purge to remove nothing, got %d", n)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.PurgeExpired(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func BenchmarkMemoryStore_IncrAndMaybeExpire(b *testing.B) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store := NewMemoryStore()

	for b.Loop() {
		store.IncrAndMaybeExpire(ctx, "bench", time.Second, 1)
	}
}
