// Package metrics adapts limiter.MetricsRecorder to Prometheus.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

// PrometheusRecorder exports the limiter's counters as one CounterVec keyed by
// event and its latency observations as a HistogramVec.
type PrometheusRecorder struct {
	events  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var _ limiter.MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers its collectors on reg. Two recorders with the
// same namespace cannot share a registry.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Rate limit events by kind (call, rejected)",
			},
			[]string{"event", "resource"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "latency_seconds",
				Help:      "Duration of counter store increments in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14), // 50µs to ~400ms
			},
			[]string{"resource"},
		),
	}
}

func (p *PrometheusRecorder) Add(name string, value float64, tags map[string]string) {
	p.events.WithLabelValues(eventName(name), tags["resource"]).Add(value)
}

func (p *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	if name != limiter.MetricLatency {
		return
	}
	p.latency.WithLabelValues(tags["resource"]).Observe(value)
}

// eventName turns "ratelimit.rejected" into "rejected".
func eventName(metric string) string {
	return strings.TrimPrefix(metric, "ratelimit.")
}
