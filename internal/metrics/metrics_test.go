package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersEverything(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PaymentsCreated.WithLabelValues("stripe").Inc()
	m.CreateFailures.WithLabelValues("stripe", "provider_rejected").Inc()
	m.Reconciliations.WithLabelValues("webhook", "stripe", "applied").Inc()
	m.WebhooksRejected.WithLabelValues("paypal").Inc()
	m.OrphanedRemote.WithLabelValues("paypal").Inc()
	m.GatewayCallDuration.WithLabelValues("stripe", "create", "ok").Observe(0.12)
	m.BreakerRejections.WithLabelValues("stripe").Inc()
	m.EventsPublishFailed.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]*dto.MetricFamily{}
	for _, f := range families {
		names[f.GetName()] = f
	}
	for _, want := range []string{
		"payments_created_total",
		"payment_create_failures_total",
		"payment_reconciliations_total",
		"payment_webhook_rejected_total",
		"payment_orphaned_remote_total",
		"payment_gateway_call_duration_seconds",
		"payment_gateway_breaker_rejections_total",
		"payment_events_publish_failures_total",
	} {
		assert.Contains(t, names, want)
	}

	hist := names["payment_gateway_call_duration_seconds"].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), hist.GetSampleCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsCreated.WithLabelValues("stripe")))
}

func TestNew_NilRegistererIsHermetic(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.PaymentsCreated.WithLabelValues("stripe").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(a.PaymentsCreated.WithLabelValues("stripe")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.PaymentsCreated.WithLabelValues("stripe")))
}
