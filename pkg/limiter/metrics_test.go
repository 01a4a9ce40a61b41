package limiter

import (
	"context"
	"sync"
	"testing"
)

// MockRecorder captures metrics in memory for assertion
type MockRecorder struct {
	mu       sync.Mutex
	Counters map[string]float64
	Timings  map[string][]float64
	Tags     []map[string]string
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{
		Counters: make(map[string]float64),
		Timings:  make(map[string][]float64),
	}
}

func (m *MockRecorder) Add(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name] += value
	m.Tags = append(m.Tags, tags)
}

func (m *MockRecorder) Observe(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], value)
}

func TestRateLimit_Metrics(t *testing.T) {
	ctx := context.Background()
	mock := NewMockRecorder()

	l, err := New(ctx, NewMemoryStore(), "metrics_test", "user_1", Limit{MaxRequests: 1}, WithRecorder(mock))
	if err != nil {
		t.Fatalf("Failed to create limiter: %v", err)
	}

	l.Increment(ctx, 1)
	l.Increment(ctx, 1)
	l.Increment(ctx, 0) // invalid, never reaches the store

	if val := mock.Counters[MetricCall]; val != 2 {
		t.Errorf("Expected %q counter to be 2, got %v", MetricCall, val)
	}
	if val := mock.Counters[MetricRejected]; val != 1 {
		t.Errorf("Expected %q counter to be 1, got %v", MetricRejected, val)
	}
	if timings := mock.Timings[MetricLatency]; len(timings) != 2 {
		t.Errorf("Expected 2 latency observations, got %d", len(timings))
	} else if timings[0] < 0 {
		t.Errorf("Expected non-negative latency, got %v", timings[0])
	}
	for _, tags := range mock.Tags {
		if tags["resource"] != "metrics_test" {
			t.Errorf("Expected resource tag, got %v", tags)
		}
	}
}
