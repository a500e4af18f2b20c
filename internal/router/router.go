// Package router guards provider gateway calls with a per-provider circuit
// breaker. Only transient failures count against a provider; rejections of
// individual requests do not.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/metrics"
	"github.com/yourorg/payment-reconciler/internal/payment"
	"github.com/yourorg/payment-reconciler/internal/processor"
	"github.com/yourorg/payment-reconciler/internal/router/circuitbreaker"
)

// Router is the orchestrator's entry point to the provider gateways.
type Router struct {
	processor      *processor.Processor
	circuitBreaker *circuitbreaker.CircuitBreaker
	metrics        *metrics.Metrics
	logger         *log.Logger
}

// NewRouter creates a Router.
func NewRouter(p *processor.Processor, cb *circuitbreaker.CircuitBreaker, m *metrics.Metrics, logger *log.Logger) *Router {
	if p == nil {
		panic("processor cannot be nil")
	}
	if cb == nil {
		panic("circuit breaker cannot be nil")
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Router{processor: p, circuitBreaker: cb, metrics: m, logger: logger}
}

// Supports reports whether a gateway is registered for method.
func (r *Router) Supports(method string) bool {
	_, err := r.processor.Gateway(method)
	return err == nil
}

// Methods lists the registered payment methods.
func (r *Router) Methods() []string {
	return r.processor.Methods()
}

// CreateRemotePayment creates the remote resource unless the provider circuit is open.
func (r *Router) CreateRemotePayment(ctx context.Context, method string, req adapter.RemotePaymentRequest) (adapter.RemotePayment, error) {
	if err := r.allow(method); err != nil {
		return adapter.RemotePayment{}, err
	}
	remote, err := r.processor.CreateRemotePayment(ctx, method, req)
	r.record(method, err)
	return remote, err
}

// FetchCanonicalStatus reads the authoritative status unless the provider circuit is open.
func (r *Router) FetchCanonicalStatus(ctx context.Context, method, transactionID string) (adapter.RemoteStatus, error) {
	if err := r.allow(method); err != nil {
		return adapter.RemoteStatus{}, err
	}
	status, err := r.processor.FetchCanonicalStatus(ctx, method, transactionID)
	r.record(method, err)
	return status, err
}

// VerifyNotification is never short-circuited: verification may be purely
// local, and refusing it would drop events the provider will not resend soon.
func (r *Router) VerifyNotification(ctx context.Context, method string, payload []byte, header http.Header) (adapter.VerifiedEvent, error) {
	return r.processor.VerifyNotification(ctx, method, payload, header)
}

func (r *Router) allow(method string) error {
	if _, err := r.processor.Gateway(method); err != nil {
		return err
	}
	if !r.circuitBreaker.AllowRequest(method) {
		r.metrics.BreakerRejections.WithLabelValues(method).Inc()
		return fmt.Errorf("router: circuit open for provider %s: %w", method, payment.ErrProviderUnavailable)
	}
	return nil
}

func (r *Router) record(method string, err error) {
	if err != nil && errors.Is(err, payment.ErrProviderUnavailable) {
		r.circuitBreaker.RecordFailure(method)
		if state, failures := r.circuitBreaker.GetProviderStatus(method); state == circuitbreaker.StateOpen {
			r.logger.Printf("Router: circuit open for provider=%s after %d consecutive failures", method, failures)
		}
		return
	}
	r.circuitBreaker.RecordSuccess(method)
}
