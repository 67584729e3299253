package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes recorded by WebhookMetrics.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// WebhookMetrics tracks inbound gateway events.
type WebhookMetrics struct {
	received *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook collectors on reg.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Gateway webhook events by kind and outcome.",
	}, []string{"kind", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_handle_duration_seconds",
		Help:    "Time spent reconciling a webhook event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	reg.MustRegister(received, duration)
	return &WebhookMetrics{received: received, duration: duration}
}

// Observe records one handled event.
func (w *WebhookMetrics) Observe(kind, outcome string, duration time.Duration) {
	if w == nil || w.received == nil {
		return
	}
	kind = normalizeLabel(kind)
	w.received.WithLabelValues(kind, outcome).Inc()
	if duration > 0 {
		w.duration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}
