package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for billing flows.
type Metrics struct {
	// WebhookEventsTotal counts processed webhooks by event type and outcome.
	WebhookEventsTotal *prometheus.CounterVec
	// WebhookDuration tracks webhook processing latency.
	WebhookDuration *prometheus.HistogramVec
	// SessionsTotal counts session initiations by kind and result.
	SessionsTotal *prometheus.CounterVec
	// CustomersCreatedTotal counts provider customers created by the linker.
	CustomersCreatedTotal prometheus.Counter
	// EntitlementPublishFailures counts best-effort publishes that failed.
	EntitlementPublishFailures prometheus.Counter
}

// NewMetrics registers the billing collectors on reg. A nil reg gets a
// private registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		WebhookEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membergate",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Provider webhook events by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		WebhookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "membergate",
			Subsystem: "billing",
			Name:      "webhook_duration_seconds",
			Help:      "Webhook processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membergate",
			Subsystem: "billing",
			Name:      "sessions_total",
			Help:      "Hosted session initiations by kind and result.",
		}, []string{"kind", "result"}),
		CustomersCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "membergate",
			Subsystem: "billing",
			Name:      "customers_created_total",
			Help:      "Provider customers created on first billing use.",
		}),
		EntitlementPublishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "membergate",
			Subsystem: "billing",
			Name:      "entitlement_publish_failures_total",
			Help:      "Entitlement change notifications that could not be published.",
		}),
	}
}
