package limiter

// MetricsRecorder receives counters and observations from the engine.
// Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// Metric names emitted by RateLimit.
const (
	MetricCall     = "ratelimit.call"
	MetricRejected = "ratelimit.rejected"
	MetricLatency  = "ratelimit.latency"
)

// NoOpMetricsRecorder discards everything. It is the recorder used when
// WithRecorder is not given.
type NoOpMetricsRecorder struct{}

func (n *NoOpMetricsRecorder) Add(name string, value float64, tags map[string]string)     {}
func (n *NoOpMetricsRecorder) Observe(name string, value float64, tags map[string]string) {}
