package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

const (
	providerName              = "stripe"
	stripeAPIBaseURL          = "https://api.stripe.com/v1"
	signatureHeader           = "Stripe-Signature"
	defaultSignatureTolerance = 5 * time.Minute
	defaultRetryAttempts      = 1
	defaultRetryDelay         = 500 * time.Millisecond
)

// Config holds the Stripe credentials and tuning.
type Config struct {
	APIKey             string
	WebhookSecret      string
	BaseURL            string
	SignatureTolerance time.Duration
	RetryAttempts      int // retries after the first try; negative selects the default
	RetryDelay         time.Duration
}

// StripeAdapter implements adapter.Gateway on top of the PaymentIntents API.
type StripeAdapter struct {
	httpClient    *http.Client
	apiBaseURL    string
	apiKey        string
	webhookSecret string
	tolerance     time.Duration
	retry         adapter.RetryPolicy
	now           func() time.Time
}

// NewStripeAdapter creates a new StripeAdapter.
func NewStripeAdapter(client *http.Client, cfg Config) *StripeAdapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	s := &StripeAdapter{
		httpClient:    client,
		apiBaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.SignatureTolerance,
		retry:         adapter.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay},
		now:           time.Now,
	}
	if s.apiBaseURL == "" {
		s.apiBaseURL = stripeAPIBaseURL
	}
	if s.tolerance <= 0 {
		s.tolerance = defaultSignatureTolerance
	}
	if s.retry.Attempts < 0 {
		s.retry.Attempts = defaultRetryAttempts
	}
	if s.retry.Delay <= 0 {
		s.retry.Delay = defaultRetryDelay
	}
	return s
}

// GetName returns the name of the provider.
func (s *StripeAdapter) GetName() string {
	return providerName
}

// StripeErrorResponse represents the error structure from Stripe API
type StripeErrorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		Message     string `json:"message"`
		DeclineCode string `json:"decline_code"`
	} `json:"error"`
}

type paymentIntent struct {
	ID           string `json:"id"`
	Object       string `json:"object"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
}

// buildIntentPayload creates the form body for a PaymentIntent.
func buildIntentPayload(req adapter.RemotePaymentRequest) (url.Values, error) {
	units, err := payment.MinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	if units <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %s", req.Amount)
	}
	payload := url.Values{}
	payload.Set("amount", strconv.FormatInt(units, 10))
	payload.Set("currency", strings.ToLower(req.Currency))
	payload.Set("automatic_payment_methods[enabled]", "true")
	if req.ReferenceID != "" {
		payload.Set("metadata[reference_id]", req.ReferenceID)
	}
	return payload, nil
}

// CreateRemotePayment creates a PaymentIntent. The client handoff is the
// intent's client secret.
func (s *StripeAdapter) CreateRemotePayment(ctx context.Context, req adapter.RemotePaymentRequest) (adapter.RemotePayment, error) {
	form, err := buildIntentPayload(req)
	if err != nil {
		return adapter.RemotePayment{}, &adapter.ProviderError{
			Provider: providerName, Class: payment.ErrProviderRejected,
			ErrorCode: "PAYLOAD_BUILD_ERROR", ErrorMessage: err.Error(),
		}
	}
	body := []byte(form.Encode())

	resp, err := adapter.Send(ctx, s.httpClient, s.retry, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBaseURL+"/payment_intents", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		s.authorize(r)
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if req.IdempotencyKey != "" {
			r.Header.Set("Idempotency-Key", req.IdempotencyKey)
		}
		return r, nil
	})
	if err != nil {
		return adapter.RemotePayment{}, adapter.NetworkError(providerName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.RemotePayment{}, s.errorFromResponse(resp)
	}

	var intent paymentIntent
	if err := json.Unmarshal(resp.Body, &intent); err != nil || intent.ID == "" {
		return adapter.RemotePayment{}, &adapter.ProviderError{
			Provider: providerName, Class: payment.ErrProviderUnavailable, HTTPStatus: resp.StatusCode,
			ErrorCode: "STRIPE_MALFORMED_RESPONSE", ErrorMessage: "payment intent without id",
		}
	}
	return adapter.RemotePayment{
		TransactionID:  intent.ID,
		ClientHandoff:  intent.ClientSecret,
		ProviderStatus: intent.Status,
		RawPayload:     resp.Body,
	}, nil
}

// FetchCanonicalStatus retrieves the PaymentIntent.
func (s *StripeAdapter) FetchCanonicalStatus(ctx context.Context, transactionID string) (adapter.RemoteStatus, error) {
	resp, err := adapter.Send(ctx, s.httpClient, s.retry, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBaseURL+"/payment_intents/"+url.PathEscape(transactionID), nil)
		if err != nil {
			return nil, err
		}
		s.authorize(r)
		return r, nil
	})
	if err != nil {
		return adapter.RemoteStatus{}, adapter.NetworkError(providerName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.RemoteStatus{}, s.errorFromResponse(resp)
	}

	var intent paymentIntent
	if err := json.Unmarshal(resp.Body, &intent); err != nil {
		return adapter.RemoteStatus{}, &adapter.ProviderError{
			Provider: providerName, Class: payment.ErrProviderUnavailable, HTTPStatus: resp.StatusCode,
			ErrorCode: "STRIPE_MALFORMED_RESPONSE", ErrorMessage: err.Error(),
		}
	}
	return adapter.RemoteStatus{TransactionID: intent.ID, ProviderStatus: intent.Status, RawPayload: resp.Body}, nil
}

func (s *StripeAdapter) authorize(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+s.apiKey)
}

func (s *StripeAdapter) errorFromResponse(resp adapter.Response) error {
	var errorResponse StripeErrorResponse
	if err := json.Unmarshal(resp.Body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		code := errorResponse.Error.Code
		if errorResponse.Error.DeclineCode != "" {
			code = errorResponse.Error.DeclineCode
		}
		return adapter.ClassifyHTTPStatus(providerName, resp.StatusCode, code, errorResponse.Error.Message)
	}
	return adapter.ClassifyHTTPStatus(providerName, resp.StatusCode, fmt.Sprintf("STRIPE_HTTP_%d", resp.StatusCode), string(resp.Body))
}

var _ adapter.Gateway = (*StripeAdapter)(nil)
