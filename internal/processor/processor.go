// Package processor selects the gateway registered for a payment method and
// times every call made to it.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/metrics"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

// Processor dispatches gateway operations by payment method.
type Processor struct {
	adapterRegistry map[string]adapter.Gateway
	metrics         *metrics.Metrics
}

// NewProcessor creates a Processor from the given gateways, keyed by GetName.
func NewProcessor(gateways []adapter.Gateway, m *metrics.Metrics) *Processor {
	if len(gateways) == 0 {
		panic("at least one gateway is required")
	}
	if m == nil {
		m = metrics.New(nil)
	}
	registry := make(map[string]adapter.Gateway, len(gateways))
	for _, g := range gateways {
		if g == nil {
			panic("gateway cannot be nil")
		}
		if _, dup := registry[g.GetName()]; dup {
			panic(fmt.Sprintf("gateway %q registered twice", g.GetName()))
		}
		registry[g.GetName()] = g
	}
	return &Processor{adapterRegistry: registry, metrics: m}
}

// Gateway returns the gateway for method or payment.ErrUnsupportedMethod.
func (p *Processor) Gateway(method string) (adapter.Gateway, error) {
	g, ok := p.adapterRegistry[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", payment.ErrUnsupportedMethod, method)
	}
	return g, nil
}

// Methods lists the registered payment methods in sorted order.
func (p *Processor) Methods() []string {
	out := make([]string, 0, len(p.adapterRegistry))
	for name := range p.adapterRegistry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CreateRemotePayment calls the method's gateway.
func (p *Processor) CreateRemotePayment(ctx context.Context, method string, req adapter.RemotePaymentRequest) (adapter.RemotePayment, error) {
	g, err := p.Gateway(method)
	if err != nil {
		return adapter.RemotePayment{}, err
	}
	start := time.Now()
	remote, err := g.CreateRemotePayment(ctx, req)
	p.observe(method, "create", start, err)
	return remote, err
}

// VerifyNotification calls the method's gateway.
func (p *Processor) VerifyNotification(ctx context.Context, method string, payload []byte, header http.Header) (adapter.VerifiedEvent, error) {
	g, err := p.Gateway(method)
	if err != nil {
		return adapter.VerifiedEvent{}, err
	}
	start := time.Now()
	ev, err := g.VerifyNotification(ctx, payload, header)
	p.observe(method, "verify", start, err)
	return ev, err
}

// FetchCanonicalStatus calls the method's gateway.
func (p *Processor) FetchCanonicalStatus(ctx context.Context, method, transactionID string) (adapter.RemoteStatus, error) {
	g, err := p.Gateway(method)
	if err != nil {
		return adapter.RemoteStatus{}, err
	}
	start := time.Now()
	status, err := g.FetchCanonicalStatus(ctx, transactionID)
	p.observe(method, "fetch_status", start, err)
	return status, err
}

func (p *Processor) observe(provider, operation string, start time.Time, err error) {
	p.metrics.GatewayCallDuration.WithLabelValues(provider, operation, ResultLabel(err)).Observe(time.Since(start).Seconds())
}

// ResultLabel maps an error onto a low-cardinality metric label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, payment.ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, payment.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, payment.ErrSignature):
		return "signature_invalid"
	case errors.Is(err, payment.ErrInvalidCart):
		return "invalid_cart"
	case errors.Is(err, payment.ErrPolicyRejected):
		return "policy_rejected"
	case errors.Is(err, payment.ErrUnsupportedMethod):
		return "unsupported_method"
	default:
		return "error"
	}
}
