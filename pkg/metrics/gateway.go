package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics tracks outbound payment gateway calls.
type GatewayMetrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewGatewayMetrics registers the gateway collectors on reg.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_calls_total",
		Help: "Payment gateway calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Payment gateway call latency.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"operation"})
	reg.MustRegister(calls, latency)
	return &GatewayMetrics{calls: calls, latency: latency}
}

// Observe records a finished gateway call.
func (g *GatewayMetrics) Observe(operation string, err error, duration time.Duration) {
	if g == nil || g.calls == nil {
		return
	}
	operation = normalizeLabel(operation)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.calls.WithLabelValues(operation, outcome).Inc()
	g.latency.WithLabelValues(operation).Observe(duration.Seconds())
}
