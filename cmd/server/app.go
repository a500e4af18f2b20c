package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/adapter/paypal"
	"github.com/yourorg/payment-reconciler/internal/adapter/stripe"
	"github.com/yourorg/payment-reconciler/internal/api"
	"github.com/yourorg/payment-reconciler/internal/cart"
	"github.com/yourorg/payment-reconciler/internal/config"
	"github.com/yourorg/payment-reconciler/internal/db"
	"github.com/yourorg/payment-reconciler/internal/events"
	"github.com/yourorg/payment-reconciler/internal/ledger"
	"github.com/yourorg/payment-reconciler/internal/ledger/memory"
	"github.com/yourorg/payment-reconciler/internal/ledger/postgres"
	"github.com/yourorg/payment-reconciler/internal/metrics"
	"github.com/yourorg/payment-reconciler/internal/orchestrator"
	"github.com/yourorg/payment-reconciler/internal/policy"
	"github.com/yourorg/payment-reconciler/internal/processor"
	"github.com/yourorg/payment-reconciler/internal/reporting"
	"github.com/yourorg/payment-reconciler/internal/router"
	"github.com/yourorg/payment-reconciler/internal/router/circuitbreaker"
)

// app owns the wired engine and the resources to release on shutdown.
type app struct {
	engine   *gin.Engine
	registry *prometheus.Registry
	closers  []func()
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (_ *app, err error) {
	a := &app{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	l, err := openLedger(ctx, cfg.Database, logger, a)
	if err != nil {
		return nil, err
	}

	gateways := buildGateways(cfg)
	if len(gateways) == 0 {
		return nil, fmt.Errorf("no payment provider configured")
	}
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	})
	rtr := router.NewRouter(processor.NewProcessor(gateways, m), cb, m, logger)
	logger.Printf("Server: payment methods enabled: %v", rtr.Methods())

	pe, err := policy.NewPaymentPolicyEnforcer(cfg.Policy.Rules)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	publisher, err := openPublisher(cfg.RabbitMQ, logger, a)
	if err != nil {
		return nil, err
	}

	carts := cart.NewHTTPProvider(cfg.Cart.BaseURL, &http.Client{Timeout: cfg.Cart.Timeout}, cfg.Cart.DefaultCurrency)

	orch := orchestrator.NewOrchestrator(rtr, carts, l,
		orchestrator.WithPolicy(pe),
		orchestrator.WithPublisher(publisher),
		orchestrator.WithMetrics(m),
		orchestrator.WithLogger(logger),
		orchestrator.WithReporter(reporting.NewRetrospectiveReporter(0)),
		orchestrator.WithDefaultCurrency(cfg.Cart.DefaultCurrency),
	)

	a.engine = api.NewRouter(api.NewHandler(orch, logger), a.registry, logger)
	return a, nil
}

func openLedger(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger, a *app) (ledger.Ledger, error) {
	switch cfg.Driver {
	case "memory":
		logger.Printf("Server: using in-memory ledger, payments are lost on restart")
		return memory.New(), nil
	case "postgres":
		if cfg.RunMigrations {
			if err := db.RunMigrations(cfg.DSN, logger); err != nil {
				return nil, fmt.Errorf("db migrate: %w", err)
			}
		}
		pool, err := db.NewPool(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return postgres.New(pool), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func buildGateways(cfg *config.Config) []adapter.Gateway {
	client := &http.Client{Timeout: cfg.Gateway.Timeout}
	var gateways []adapter.Gateway
	if cfg.Stripe.Enabled() {
		gateways = append(gateways, stripe.NewStripeAdapter(client, stripe.Config{
			APIKey:             cfg.Stripe.APIKey,
			WebhookSecret:      cfg.Stripe.WebhookSecret,
			BaseURL:            cfg.Stripe.BaseURL,
			SignatureTolerance: cfg.Stripe.SignatureTolerance,
			RetryAttempts:      cfg.Gateway.RetryAttempts,
			RetryDelay:         cfg.Gateway.RetryDelay,
		}))
	}
	if cfg.PayPal.Enabled() {
		gateways = append(gateways, paypal.NewPayPalAdapter(client, paypal.Config{
			ClientID:      cfg.PayPal.ClientID,
			ClientSecret:  cfg.PayPal.ClientSecret,
			WebhookID:     cfg.PayPal.WebhookID,
			BaseURL:       cfg.PayPal.BaseURL,
			ReturnURL:     cfg.PayPal.ReturnURL,
			CancelURL:     cfg.PayPal.CancelURL,
			BrandName:     cfg.PayPal.BrandName,
			RetryAttempts: cfg.Gateway.RetryAttempts,
			RetryDelay:    cfg.Gateway.RetryDelay,
		}))
	}
	return gateways
}

func openPublisher(cfg config.RabbitMQConfig, logger *log.Logger, a *app) (events.Publisher, error) {
	if cfg.URL == "" {
		logger.Printf("Server: rabbitmq.url not set, payment events are not published")
		return events.NopPublisher{}, nil
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	a.closers = append(a.closers, func() { _ = conn.Close() })

	pub, err := events.NewAMQPPublisher(conn)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq publisher: %w", err)
	}
	a.closers = append(a.closers, func() { _ = pub.Close() })
	return pub, nil
}
