package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

func setupTestTelemetry(t *testing.T) (*tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		mp.Shutdown(context.Background())
	})
	return spans, reader
}

func findSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "unexpected data type %T", m.Data)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func findHistogramCount(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var count uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok, "unexpected data type %T", m.Data)
			for _, dp := range h.DataPoints {
				count += dp.Count
			}
		}
	}
	return count
}

func TestInstrumentedStore_Operations(t *testing.T) {
	spans, reader := setupTestTelemetry(t)

	store, err := NewInstrumentedStore(limiter.NewMemoryStore())
	require.NoError(t, err)
	ctx := context.Background()

	v, err := store.IncrAndMaybeExpire(ctx, "k", time.Second, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), got)

	ttl, err := store.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	keys, err := store.Scan(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
	require.NoError(t, store.Delete(ctx, keys...))

	ended := spans.Ended()
	require.Len(t, ended, 5)
	names := make([]string, 0, len(ended))
	for _, s := range ended {
		names = append(names, s.Name())
		assert.Equal(t, codes.Ok, s.Status().Code)
	}
	assert.Equal(t, []string{
		"counterstore.IncrAndMaybeExpire",
		"counterstore.Get",
		"counterstore.TTL",
		"counterstore.Scan",
		"counterstore.Delete",
	}, names)

	assert.Equal(t, uint64(5), findHistogramCount(t, reader, "counterstore.operation.duration"))
	assert.Equal(t, int64(0), findSum(t, reader, "counterstore.operation.errors"))
}

func TestInstrumentedStore_ErrorRecording(t *testing.T) {
	spans, reader := setupTestTelemetry(t)

	store, err := NewInstrumentedStore(limiter.NewMemoryStore())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.IncrAndMaybeExpire(ctx, "k", time.Second, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "errors must pass through unwrapped")

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, int64(1), findSum(t, reader, "counterstore.operation.errors"))
}

type verifyingStore struct {
	*limiter.MemoryStore
	err error
}

func (v verifyingStore) Verify(context.Context) error { return v.err }

func TestInstrumentedStore_ForwardsVerify(t *testing.T) {
	setupTestTelemetry(t)

	inner := verifyingStore{MemoryStore: limiter.NewMemoryStore(), err: limiter.ErrUnsupportedBackend}
	store, err := NewInstrumentedStore(inner)
	require.NoError(t, err)

	_, err = limiter.New(context.Background(), store, "api", "c", limiter.Limit{MaxRequests: 1})
	assert.ErrorIs(t, err, limiter.ErrUnsupportedBackend)

	plain, err := NewInstrumentedStore(limiter.NewMemoryStore())
	require.NoError(t, err)
	assert.NoError(t, plain.Verify(context.Background()))
	assert.NotNil(t, plain.Unwrap())
}
