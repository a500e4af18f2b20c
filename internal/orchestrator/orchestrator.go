// Package orchestrator creates payments with the external providers and
// reconciles their final state from provider notifications and client
// redirects. The ledger's conditional transition is the only guard against
// duplicate, late or concurrent reconciliations; no lock is held while a
// provider is called.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/cart"
	"github.com/yourorg/payment-reconciler/internal/events"
	"github.com/yourorg/payment-reconciler/internal/ledger"
	"github.com/yourorg/payment-reconciler/internal/metrics"
	"github.com/yourorg/payment-reconciler/internal/payment"
	"github.com/yourorg/payment-reconciler/internal/policy"
	"github.com/yourorg/payment-reconciler/internal/reporting"
)

// GatewayRouter selects the provider gateway for a payment method.
type GatewayRouter interface {
	Supports(method string) bool
	CreateRemotePayment(ctx context.Context, method string, req adapter.RemotePaymentRequest) (adapter.RemotePayment, error)
	FetchCanonicalStatus(ctx context.Context, method, transactionID string) (adapter.RemoteStatus, error)
	VerifyNotification(ctx context.Context, method string, payload []byte, header http.Header) (adapter.VerifiedEvent, error)
}

// PolicyEnforcerInterface decides whether a payment may be attempted.
type PolicyEnforcerInterface interface {
	Evaluate(in policy.Input) error
}

// Outcome describes what a reconciliation did to the ledger.
type Outcome string

const (
	// OutcomeApplied means the payment moved from pending to a terminal status.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the payment was already terminal; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the notification carried no terminal status.
	OutcomeIgnored Outcome = "ignored"
)

const (
	sourceWebhook  = "webhook"
	sourceRedirect = "redirect"
)

// CreatePaymentRequest starts a payment for a cart.
type CreatePaymentRequest struct {
	CartID string
	UserID string
	Method string
}

// CreatePaymentResult is returned once the pending payment is recorded.
type CreatePaymentResult struct {
	PaymentID     string
	TransactionID string
	Method        string
	Status        payment.Status
	ClientHandoff string
}

// WebhookResult reports how a verified notification was handled.
type WebhookResult struct {
	Outcome   Outcome
	EventType string
	PaymentID string
	Status    payment.Status
}

// Orchestrator coordinates the cart, the gateways and the ledger.
type Orchestrator struct {
	router          GatewayRouter
	carts           cart.SnapshotProvider
	ledger          ledger.Ledger
	policyEnforcer  PolicyEnforcerInterface
	publisher       events.Publisher
	reporter        *reporting.RetrospectiveReporter
	metrics         *metrics.Metrics
	logger          *log.Logger
	tracer          trace.Tracer
	now             func() time.Time
	newID           func() string
	defaultCurrency string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy replaces the default policy enforcer.
func WithPolicy(pe PolicyEnforcerInterface) Option {
	return func(o *Orchestrator) { o.policyEnforcer = pe }
}

// WithPublisher sets where payment events go. Events are dropped without one.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics records outcomes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithReporter replaces the default reporter.
func WithReporter(r *reporting.RetrospectiveReporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the uuid generator used for payment ids.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// WithDefaultCurrency is used when the cart snapshot carries no currency.
func WithDefaultCurrency(currency string) Option {
	return func(o *Orchestrator) { o.defaultCurrency = strings.ToUpper(currency) }
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(r GatewayRouter, carts cart.SnapshotProvider, l ledger.Ledger, opts ...Option) *Orchestrator {
	if r == nil {
		panic("Router cannot be nil")
	}
	if carts == nil {
		panic("SnapshotProvider cannot be nil")
	}
	if l == nil {
		panic("Ledger cannot be nil")
	}
	o := &Orchestrator{
		router:          r,
		carts:           carts,
		ledger:          l,
		publisher:       events.NopPublisher{},
		reporter:        reporting.NewRetrospectiveReporter(0),
		logger:          log.Default(),
		tracer:          otel.Tracer("orchestrator"),
		now:             time.Now,
		newID:           uuid.NewString,
		defaultCurrency: "USD",
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New(nil)
	}
	return o
}

// CreatePayment validates the cart, creates the remote payment and records
// it as pending. Nothing is written when the provider call fails. A failed
// insert after a successful remote creation leaves an orphaned remote
// resource, which is logged and counted for manual reconciliation.
func (o *Orchestrator) CreatePayment(ctx context.Context, req CreatePaymentRequest) (res CreatePaymentResult, err error) {
	method := strings.ToLower(strings.TrimSpace(req.Method))
	ctx, span := o.tracer.Start(ctx, "Orchestrator.CreatePayment", trace.WithAttributes(
		attribute.String("payment.method", method),
		attribute.String("cart.id", req.CartID),
	))
	defer func() { endSpan(span, err) }()

	if !o.router.Supports(method) {
		o.metrics.CreateFailures.WithLabelValues(method, "unsupported_method").Inc()
		return CreatePaymentResult{}, fmt.Errorf("%w: %q", payment.ErrUnsupportedMethod, req.Method)
	}

	snapshot, err := o.loadCart(ctx, req)
	if err != nil {
		o.metrics.CreateFailures.WithLabelValues(method, failureReason(err)).Inc()
		return CreatePaymentResult{}, err
	}

	if o.policyEnforcer != nil {
		if err := o.policyEnforcer.Evaluate(policy.Input{
			Amount:    snapshot.Amount,
			Currency:  snapshot.Currency,
			Method:    method,
			ItemCount: snapshot.ItemCount,
		}); err != nil {
			o.metrics.CreateFailures.WithLabelValues(method, failureReason(err)).Inc()
			return CreatePaymentResult{}, err
		}
	}

	paymentID := o.newID()
	remote, err := o.router.CreateRemotePayment(ctx, method, adapter.RemotePaymentRequest{
		Amount:         snapshot.Amount,
		Currency:       snapshot.Currency,
		ReferenceID:    snapshot.CartID,
		IdempotencyKey: paymentID,
	})
	if err != nil {
		o.logger.Printf("Orchestrator: create remote payment failed method=%s cart_id=%s: %v", method, snapshot.CartID, err)
		o.metrics.CreateFailures.WithLabelValues(method, failureReason(err)).Inc()
		return CreatePaymentResult{}, err
	}
	if remote.TransactionID == "" {
		o.metrics.CreateFailures.WithLabelValues(method, "provider_rejected").Inc()
		return CreatePaymentResult{}, fmt.Errorf("%w: %s returned no transaction id", payment.ErrProviderRejected, method)
	}

	now := o.now().UTC()
	p := payment.Payment{
		ID:               paymentID,
		CartID:           snapshot.CartID,
		UserID:           req.UserID,
		Amount:           snapshot.Amount,
		Currency:         snapshot.Currency,
		Method:           method,
		TransactionID:    remote.TransactionID,
		Status:           payment.StatusPending,
		ProviderResponse: remote.RawPayload,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.ledger.Insert(ctx, p); err != nil {
		o.logger.Printf("Orchestrator: ORPHANED remote payment method=%s transaction_id=%s cart_id=%s payment_id=%s: %v",
			method, remote.TransactionID, snapshot.CartID, paymentID, err)
		o.metrics.OrphanedRemote.WithLabelValues(method).Inc()
		o.metrics.CreateFailures.WithLabelValues(method, "ledger_error").Inc()
		return CreatePaymentResult{}, fmt.Errorf("record payment %s: %w", paymentID, err)
	}

	o.metrics.PaymentsCreated.WithLabelValues(method).Inc()
	o.logger.Printf("Orchestrator: payment created payment_id=%s method=%s transaction_id=%s amount=%s currency=%s",
		paymentID, method, remote.TransactionID, payment.FormatAmount(snapshot.Amount, snapshot.Currency), snapshot.Currency)
	span.SetAttributes(attribute.String("payment.id", paymentID))

	return CreatePaymentResult{
		PaymentID:     paymentID,
		TransactionID: remote.TransactionID,
		Method:        method,
		Status:        payment.StatusPending,
		ClientHandoff: remote.ClientHandoff,
	}, nil
}

func (o *Orchestrator) loadCart(ctx context.Context, req CreatePaymentRequest) (cart.Snapshot, error) {
	snapshot, err := o.carts.GetCartAmount(ctx, req.CartID)
	if err != nil {
		if errors.Is(err, cart.ErrCartNotFound) {
			return cart.Snapshot{}, fmt.Errorf("%w: cart %s not found", payment.ErrInvalidCart, req.CartID)
		}
		return cart.Snapshot{}, fmt.Errorf("load cart %s: %w", req.CartID, err)
	}
	if snapshot.CartID == "" {
		snapshot.CartID = req.CartID
	}
	if snapshot.UserID != "" && snapshot.UserID != req.UserID {
		return cart.Snapshot{}, fmt.Errorf("%w: cart %s belongs to another user", payment.ErrInvalidCart, req.CartID)
	}
	if snapshot.ItemCount <= 0 {
		return cart.Snapshot{}, fmt.Errorf("%w: cart %s is empty", payment.ErrInvalidCart, req.CartID)
	}
	if !snapshot.Amount.IsPositive() {
		return cart.Snapshot{}, fmt.Errorf("%w: cart %s amount %s is not positive", payment.ErrInvalidCart, req.CartID, snapshot.Amount)
	}
	snapshot.Currency = strings.ToUpper(strings.TrimSpace(snapshot.Currency))
	if snapshot.Currency == "" {
		snapshot.Currency = o.defaultCurrency
	}
	if _, err := payment.MinorUnits(snapshot.Amount, snapshot.Currency); err != nil {
		return cart.Snapshot{}, fmt.Errorf("%w: %v", payment.ErrInvalidCart, err)
	}
	return snapshot, nil
}

// ReconcileFromRedirect handles the client returning from the provider's
// approval page. token is the provider transaction id. A payment that is
// already terminal is returned without contacting the provider.
func (o *Orchestrator) ReconcileFromRedirect(ctx context.Context, token string) (p payment.Payment, err error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.ReconcileFromRedirect")
	defer func() { endSpan(span, err) }()

	p, err = o.ledger.GetByTransactionID(ctx, token)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			o.metrics.Reconciliations.WithLabelValues(sourceRedirect, "", "not_found").Inc()
			return payment.Payment{}, fmt.Errorf("redirect token: %w", err)
		}
		return payment.Payment{}, err
	}
	span.SetAttributes(attribute.String("payment.id", p.ID), attribute.String("payment.method", p.Method))

	if p.Status.IsTerminal() {
		o.metrics.Reconciliations.WithLabelValues(sourceRedirect, p.Method, string(OutcomeDuplicate)).Inc()
		return p, nil
	}

	remote, err := o.router.FetchCanonicalStatus(ctx, p.Method, p.TransactionID)
	if err != nil {
		o.logger.Printf("Orchestrator: fetch canonical status failed payment_id=%s method=%s transaction_id=%s: %v",
			p.ID, p.Method, p.TransactionID, err)
		o.metrics.Reconciliations.WithLabelValues(sourceRedirect, p.Method, "error").Inc()
		return payment.Payment{}, err
	}

	to, ok := payment.MapProviderStatus(remote.ProviderStatus)
	if !ok {
		o.logger.Printf("Orchestrator: payment_id=%s still pending, provider status=%q", p.ID, remote.ProviderStatus)
		o.metrics.Reconciliations.WithLabelValues(sourceRedirect, p.Method, string(OutcomeIgnored)).Inc()
		return p, nil
	}

	updated, _, err := o.apply(ctx, sourceRedirect, p, to, remote.RawPayload)
	return updated, err
}

// ReconcileFromWebhook verifies a raw provider notification and applies the
// status it reports. Nothing is read or written before verification
// succeeds. A notification for a transaction recorded under a different
// method is treated as unknown.
func (o *Orchestrator) ReconcileFromWebhook(ctx context.Context, method string, payload []byte, header http.Header) (res WebhookResult, err error) {
	method = strings.ToLower(method)
	ctx, span := o.tracer.Start(ctx, "Orchestrator.ReconcileFromWebhook", trace.WithAttributes(
		attribute.String("payment.method", method),
	))
	defer func() { endSpan(span, err) }()

	if !o.router.Supports(method) {
		return WebhookResult{}, fmt.Errorf("%w: %q", payment.ErrUnsupportedMethod, method)
	}

	event, err := o.router.VerifyNotification(ctx, method, payload, header)
	if err != nil {
		if errors.Is(err, payment.ErrSignature) {
			o.logger.Printf("Orchestrator: rejected %s notification: %v", method, err)
			o.metrics.WebhooksRejected.WithLabelValues(method).Inc()
		}
		return WebhookResult{}, err
	}
	span.SetAttributes(attribute.String("event.type", event.EventType))

	to, ok := payment.MapProviderStatus(event.ProviderStatus)
	if !ok || event.TransactionID == "" {
		o.metrics.Reconciliations.WithLabelValues(sourceWebhook, method, string(OutcomeIgnored)).Inc()
		return WebhookResult{Outcome: OutcomeIgnored, EventType: event.EventType}, nil
	}

	p, err := o.ledger.GetByTransactionID(ctx, event.TransactionID)
	if err == nil && p.Method != method {
		o.logger.Printf("Orchestrator: %s notification for transaction_id=%s recorded under method=%s", method, event.TransactionID, p.Method)
		err = payment.ErrPaymentNotFound
	}
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			o.logger.Printf("Orchestrator: %s event=%s for unknown transaction_id=%s", method, event.EventType, event.TransactionID)
			o.metrics.Reconciliations.WithLabelValues(sourceWebhook, method, "not_found").Inc()
			return WebhookResult{EventType: event.EventType}, fmt.Errorf("transaction %s: %w", event.TransactionID, payment.ErrPaymentNotFound)
		}
		return WebhookResult{}, err
	}
	span.SetAttributes(attribute.String("payment.id", p.ID))

	updated, outcome, err := o.apply(ctx, sourceWebhook, p, to, event.RawPayload)
	if err != nil {
		return WebhookResult{}, err
	}
	return WebhookResult{Outcome: outcome, EventType: event.EventType, PaymentID: updated.ID, Status: updated.Status}, nil
}

// apply runs the ledger's pending-only transition and publishes the result
// when it took effect.
func (o *Orchestrator) apply(ctx context.Context, source string, p payment.Payment, to payment.Status, raw []byte) (payment.Payment, Outcome, error) {
	updated, applied, err := o.ledger.Transition(ctx, p.ID, to, raw)
	if err != nil {
		o.metrics.Reconciliations.WithLabelValues(source, p.Method, "error").Inc()
		return payment.Payment{}, "", fmt.Errorf("transition payment %s: %w", p.ID, err)
	}
	if !applied {
		o.logger.Printf("Orchestrator: %s for payment_id=%s ignored, already %s (reported %s)", source, p.ID, updated.Status, to)
		o.metrics.Reconciliations.WithLabelValues(source, p.Method, string(OutcomeDuplicate)).Inc()
		return updated, OutcomeDuplicate, nil
	}

	o.logger.Printf("Orchestrator: payment_id=%s %s -> %s via %s", p.ID, p.Status, updated.Status, source)
	o.metrics.Reconciliations.WithLabelValues(source, p.Method, string(OutcomeApplied)).Inc()
	if err := o.publisher.PublishPaymentResult(ctx, updated); err != nil {
		o.logger.Printf("Orchestrator: publish result for payment_id=%s failed: %v", p.ID, err)
		o.metrics.EventsPublishFailed.Inc()
	}
	return updated, OutcomeApplied, nil
}

// GetPayment returns the payment with id.
func (o *Orchestrator) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	return o.ledger.GetByID(ctx, id)
}

// Report summarizes the ledger from its aggregates and the oldest pending
// payments only; it never loads the full ledger.
func (o *Orchestrator) Report(ctx context.Context) (*reporting.RetrospectiveReport, error) {
	summary, err := o.ledger.Summary(ctx)
	if err != nil {
		return nil, fmt.Errorf("summarize ledger: %w", err)
	}
	pending, err := o.ledger.List(ctx, ledger.ListFilter{Status: payment.StatusPending, Limit: o.reporter.PendingLimit()})
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	return o.reporter.GenerateRetrospective(summary, pending, o.now()), nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, payment.ErrInvalidCart):
		return "invalid_cart"
	case errors.Is(err, payment.ErrPolicyRejected):
		return "policy_rejected"
	case errors.Is(err, payment.ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, payment.ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "internal"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
