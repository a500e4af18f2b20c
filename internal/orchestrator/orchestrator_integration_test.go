package orchestrator_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/adapter/mock"
	"github.com/yourorg/payment-reconciler/internal/adapter/stripe"
	"github.com/yourorg/payment-reconciler/internal/cart"
	"github.com/yourorg/payment-reconciler/internal/ledger"
	"github.com/yourorg/payment-reconciler/internal/ledger/memory"
	"github.com/yourorg/payment-reconciler/internal/metrics"
	"github.com/yourorg/payment-reconciler/internal/orchestrator"
	"github.com/yourorg/payment-reconciler/internal/payment"
	"github.com/yourorg/payment-reconciler/internal/processor"
	"github.com/yourorg/payment-reconciler/internal/router"
	"github.com/yourorg/payment-reconciler/internal/router/circuitbreaker"
)

const webhookSecret = "whsec_integration"

// fakeStripe answers PaymentIntent creation and retrieval.
func fakeStripe(t *testing.T, creates *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/payment_intents":
			n := atomic.AddInt32(creates, 1)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "4999", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
			fmt.Fprintf(w, `{"id":"pi_int_%d","object":"payment_intent","status":"requires_payment_method","client_secret":"pi_int_%d_secret"}`, n, n)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such route"}}`))
		}
	}))
}

func signedEvent(t *testing.T, eventType, intentID, status string) ([]byte, http.Header) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":"evt_%s_%s","type":%q,"data":{"object":{"id":%q,"object":"payment_intent","status":%q}}}`,
		intentID, status, eventType, intentID, status))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	header := http.Header{}
	header.Set("Stripe-Signature", "t="+ts+",v1="+hex.EncodeToString(mac.Sum(nil)))
	return payload, header
}

func newStack(t *testing.T, gateways ...adapter.Gateway) (*orchestrator.Orchestrator, *memory.Ledger, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	logger := log.New(io.Discard, "", 0)
	r := router.NewRouter(
		processor.NewProcessor(gateways, m),
		circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute}),
		m, logger,
	)
	carts := cart.NewStaticProvider(cart.Snapshot{
		CartID: "cart-int", UserID: "user-int", Amount: decimal.RequireFromString("49.99"), Currency: "USD", ItemCount: 1,
	})
	l := memory.New()
	return orchestrator.NewOrchestrator(r, carts, l, orchestrator.WithMetrics(m), orchestrator.WithLogger(logger)), l, m
}

func TestIntegration_StripeCreateAndWebhook(t *testing.T) {
	var creates int32
	server := fakeStripe(t, &creates)
	defer server.Close()

	gw := stripe.NewStripeAdapter(server.Client(), stripe.Config{APIKey: "sk_test", WebhookSecret: webhookSecret, BaseURL: server.URL})
	orc, l, m := newStack(t, gw)
	ctx := context.Background()

	created, err := orc.CreatePayment(ctx, orchestrator.CreatePaymentRequest{CartID: "cart-int", UserID: "user-int", Method: "stripe"})
	require.NoError(t, err)
	assert.Equal(t, "pi_int_1", created.TransactionID)
	assert.Equal(t, "pi_int_1_secret", created.ClientHandoff)

	payload, header := signedEvent(t, "payment_intent.succeeded", "pi_int_1", "succeeded")
	res, err := orc.ReconcileFromWebhook(ctx, "stripe", payload, header)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeApplied, res.Outcome)

	// Redelivery of the same event.
	res, err = orc.ReconcileFromWebhook(ctx, "stripe", payload, header)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeDuplicate, res.Outcome)

	late, lateHeader := signedEvent(t, "payment_intent.payment_failed", "pi_int_1", "requires_payment_method")
	res, err = orc.ReconcileFromWebhook(ctx, "stripe", late, lateHeader)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeDuplicate, res.Outcome)

	stored, err := l.GetByID(ctx, created.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, stored.Status)
	assert.Equal(t, payload, stored.ProviderResponse)

	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = ' '
	_, err = orc.ReconcileFromWebhook(ctx, "stripe", tampered, header)
	assert.ErrorIs(t, err, payment.ErrSignature)

	assert.Equal(t, int32(1), atomic.LoadInt32(&creates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhooksRejected.WithLabelValues("stripe")))
}

func TestIntegration_BreakerOpensOnUnavailableProvider(t *testing.T) {
	down := mock.NewMockAdapter("paypal")
	down.CreateFunc = func(ctx context.Context, req adapter.RemotePaymentRequest) (adapter.RemotePayment, error) {
		return adapter.RemotePayment{}, adapter.ClassifyHTTPStatus("paypal", http.StatusServiceUnavailable, "", "")
	}
	orc, l, m := newStack(t, down)
	req := orchestrator.CreatePaymentRequest{CartID: "cart-int", UserID: "user-int", Method: "paypal"}

	for i := 0; i < 2; i++ {
		_, err := orc.CreatePayment(context.Background(), req)
		assert.ErrorIs(t, err, payment.ErrProviderUnavailable)
	}
	_, err := orc.CreatePayment(context.Background(), req)
	assert.ErrorIs(t, err, payment.ErrProviderUnavailable)

	assert.Equal(t, 2, down.CreateCalls(), "open circuit must not reach the provider")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerRejections.WithLabelValues("paypal")))

	all, err := l.List(context.Background(), ledger.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIntegration_RedirectThroughMockGateway(t *testing.T) {
	gw := mock.NewMockAdapter("paypal")
	orc, _, _ := newStack(t, gw)
	ctx := context.Background()

	created, err := orc.CreatePayment(ctx, orchestrator.CreatePaymentRequest{CartID: "cart-int", UserID: "user-int", Method: "paypal"})
	require.NoError(t, err)

	p, err := orc.ReconcileFromRedirect(ctx, created.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)

	p, err = orc.ReconcileFromRedirect(ctx, created.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.Equal(t, 1, gw.FetchCalls())
}
