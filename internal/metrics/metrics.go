// Package metrics defines the Prometheus instruments of the payment service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every instrument. Build one per process with New; tests
// pass their own registry (or nil) to stay hermetic.
type Metrics struct {
	PaymentsCreated     *prometheus.CounterVec
	CreateFailures      *prometheus.CounterVec
	Reconciliations     *prometheus.CounterVec
	WebhooksRejected    *prometheus.CounterVec
	OrphanedRemote      *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec
	BreakerRejections   *prometheus.CounterVec
	EventsPublishFailed prometheus.Counter
}

// New creates the instruments and registers them with reg. A nil reg
// creates unregistered instruments.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PaymentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Pending payments recorded after a successful provider creation.",
		}, []string{"method"}),
		CreateFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_create_failures_total",
			Help: "Payment creations that did not produce a ledger row, by reason.",
		}, []string{"method", "reason"}),
		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Reconciliation attempts by source (webhook, redirect) and outcome.",
		}, []string{"source", "method", "outcome"}),
		WebhooksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_rejected_total",
			Help: "Notifications dropped because their signature did not verify.",
		}, []string{"method"}),
		OrphanedRemote: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_orphaned_remote_total",
			Help: "Remote payments created without a matching ledger row; need manual reconciliation.",
		}, []string{"method"}),
		GatewayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_gateway_call_duration_seconds",
			Help:    "Latency of provider gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation", "result"}),
		BreakerRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_gateway_breaker_rejections_total",
			Help: "Gateway calls refused because the provider circuit is open.",
		}, []string{"provider"}),
		EventsPublishFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "payment_events_publish_failures_total",
			Help: "Payment result events that could not be published.",
		}),
	}
}
