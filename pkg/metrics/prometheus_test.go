package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

func TestPrometheusRecorder_WithLimiter(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg, "test")

	ctx := context.Background()
	l, err := limiter.New(ctx, limiter.NewMemoryStore(), "search", "user_1",
		limiter.Limit{MaxRequests: 2}, limiter.WithRecorder(rec))
	require.NoError(t, err)

	for range 3 {
		l.Increment(ctx, 1)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(rec.events.WithLabelValues("call", "search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.events.WithLabelValues("rejected", "search")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.latency, "test_latency_seconds"))
}

func TestPrometheusRecorder_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg, "rl")

	rec.Add(limiter.MetricRejected, 1, map[string]string{"resource": "api"})
	rec.Observe("something.else", 1, map[string]string{"resource": "api"})

	expected := `
# HELP rl_events_total Rate limit events by kind (call, rejected)
# TYPE rl_events_total counter
rl_events_total{event="rejected",resource="api"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "rl_events_total")
	assert.NoError(t, err)
	assert.Equal(t, 0, testutil.CollectAndCount(rec.latency))
}

func TestNewPrometheusRecorder_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusRecorder(reg, "dup")
	assert.Panics(t, func() { NewPrometheusRecorder(reg, "dup") })
}
