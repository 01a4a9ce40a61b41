package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

const instrumentationName = "github.com/manenim/redis-rate-limit/counterstore"

// InstrumentedStore wraps a limiter.CounterStore with a span, a latency
// histogram and an error counter for every operation.
type InstrumentedStore struct {
	inner    limiter.CounterStore
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

var (
	_ limiter.CounterStore = (*InstrumentedStore)(nil)
	_ limiter.Verifier     = (*InstrumentedStore)(nil)
)

func NewInstrumentedStore(inner limiter.CounterStore) (*InstrumentedStore, error) {
	tracer := otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)

	duration, err := meter.Float64Histogram(
		"counterstore.operation.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"counterstore.operation.errors",
		metric.WithDescription("Number of counter store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

// Unwrap returns the decorated store.
func (s *InstrumentedStore) Unwrap() limiter.CounterStore { return s.inner }

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "counterstore."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("counterstore.operation", operation),
		}, attrs...)...),
	)
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Verify forwards to the inner store when it is a limiter.Verifier.
func (s *InstrumentedStore) Verify(ctx context.Context) error {
	v, ok := s.inner.(limiter.Verifier)
	if !ok {
		return nil
	}
	ctx, span := s.startSpan(ctx, "Verify")
	start := time.Now()
	err := v.Verify(ctx)
	s.record(ctx, span, "Verify", start, err)
	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (int64, bool, error) {
	ctx, span := s.startSpan(ctx, "Get", attribute.String("key", key))
	start := time.Now()
	v, ok, err := s.inner.Get(ctx, key)
	s.record(ctx, span, "Get", start, err)
	return v, ok, err
}

func (s *InstrumentedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, span := s.startSpan(ctx, "TTL", attribute.String("key", key))
	start := time.Now()
	ttl, err := s.inner.TTL(ctx, key)
	s.record(ctx, span, "TTL", start, err)
	return ttl, err
}

func (s *InstrumentedStore) IncrAndMaybeExpire(ctx context.Context, key string, window time.Duration, amount int64) (int64, error) {
	ctx, span := s.startSpan(ctx, "IncrAndMaybeExpire",
		attribute.String("key", key),
		attribute.Int64("window_ms", window.Milliseconds()),
		attribute.Int64("amount", amount),
	)
	start := time.Now()
	v, err := s.inner.IncrAndMaybeExpire(ctx, key, window, amount)
	if err == nil {
		span.SetAttributes(attribute.Int64("counter", v))
	}
	s.record(ctx, span, "IncrAndMaybeExpire", start, err)
	return v, err
}

func (s *InstrumentedStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := s.startSpan(ctx, "Scan", attribute.String("prefix", prefix))
	start := time.Now()
	keys, err := s.inner.Scan(ctx, prefix)
	span.SetAttributes(attribute.Int("keys", len(keys)))
	s.record(ctx, span, "Scan", start, err)
	return keys, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, keys ...string) error {
	ctx, span := s.startSpan(ctx, "Delete", attribute.Int("keys", len(keys)))
	start := time.Now()
	err := s.inner.Delete(ctx, keys...)
	s.record(ctx, span, "Delete", start, err)
	return err
}
