// Package paypal implements adapter.Gateway on top of the PayPal Orders v2
// API. Orders are created with intent CAPTURE; the canonical status of an
// approved order is obtained by capturing it.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

const (
	providerName         = "paypal"
	paypalAPIBaseURL     = "https://api-m.paypal.com"
	defaultBrandName     = "E-Commerce"
	defaultRetryAttempts = 1
	defaultRetryDelay    = 500 * time.Millisecond
	tokenExpiryMargin    = time.Minute
)

// Config holds the PayPal REST app credentials and checkout settings.
type Config struct {
	ClientID      string
	ClientSecret  string
	WebhookID     string
	BaseURL       string
	ReturnURL     string
	CancelURL     string
	BrandName     string
	RetryAttempts int // retries after the first try; negative selects the default
	RetryDelay    time.Duration
}

// PayPalAdapter implements adapter.Gateway for PayPal.
type PayPalAdapter struct {
	httpClient   *http.Client
	apiBaseURL   string
	clientID     string
	clientSecret string
	webhookID    string
	returnURL    string
	cancelURL    string
	brandName    string
	retry        adapter.RetryPolicy
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalAdapter creates a new PayPalAdapter.
func NewPayPalAdapter(client *http.Client, cfg Config) *PayPalAdapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	p := &PayPalAdapter{
		httpClient:   client,
		apiBaseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		returnURL:    cfg.ReturnURL,
		cancelURL:    cfg.CancelURL,
		brandName:    cfg.BrandName,
		retry:        adapter.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay},
		now:          time.Now,
	}
	if p.apiBaseURL == "" {
		p.apiBaseURL = paypalAPIBaseURL
	}
	if p.brandName == "" {
		p.brandName = defaultBrandName
	}
	if p.retry.Attempts < 0 {
		p.retry.Attempts = defaultRetryAttempts
	}
	if p.retry.Delay <= 0 {
		p.retry.Delay = defaultRetryDelay
	}
	return p
}

// GetName returns the name of the provider.
func (p *PayPalAdapter) GetName() string {
	return providerName
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// PayPalErrorResponse is the error body of the REST API.
type PayPalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e PayPalErrorResponse) issue() string {
	if len(e.Details) > 0 && e.Details[0].Issue != "" {
		return e.Details[0].Issue
	}
	return e.Name
}

type orderRequest struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	Amount      amount `json:"amount"`
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type applicationContext struct {
	BrandName   string `json:"brand_name,omitempty"`
	LandingPage string `json:"landing_page"`
	UserAction  string `json:"user_action"`
	ReturnURL   string `json:"return_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
}

func (p *PayPalAdapter) buildOrderRequest(req adapter.RemotePaymentRequest) orderRequest {
	return orderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.ReferenceID,
			Amount: amount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        payment.FormatAmount(req.Amount, req.Currency),
			},
		}},
		ApplicationContext: applicationContext{
			BrandName:   p.brandName,
			LandingPage: "BILLING",
			UserAction:  "PAY_NOW",
			ReturnURL:   p.returnURL,
			CancelURL:   p.cancelURL,
		},
	}
}

// CreateRemotePayment creates an order. The client handoff is the approval URL.
func (p *PayPalAdapter) CreateRemotePayment(ctx context.Context, req adapter.RemotePaymentRequest) (adapter.RemotePayment, error) {
	body, err := json.Marshal(p.buildOrderRequest(req))
	if err != nil {
		return adapter.RemotePayment{}, fmt.Errorf("paypal: marshal order: %w", err)
	}

	resp, err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", body, req.IdempotencyKey)
	if err != nil {
		return adapter.RemotePayment{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.RemotePayment{}, errorFromResponse(resp)
	}

	var created order
	if err := json.Unmarshal(resp.Body, &created); err != nil || created.ID == "" {
		return adapter.RemotePayment{}, &adapter.ProviderError{
			Provider: providerName, Class: payment.ErrProviderUnavailable, HTTPStatus: resp.StatusCode,
			ErrorCode: "PAYPAL_MALFORMED_RESPONSE", ErrorMessage: "order without id",
		}
	}
	approve := approvalLink(created.Links)
	if approve == "" {
		return adapter.RemotePayment{}, &adapter.ProviderError{
			Provider: providerName, Class: payment.ErrProviderRejected, HTTPStatus: resp.StatusCode,
			ErrorCode: "PAYPAL_NO_APPROVAL_LINK", ErrorMessage: "order " + created.ID + " has no approval link",
		}
	}
	return adapter.RemotePayment{
		TransactionID:  created.ID,
		ClientHandoff:  approve,
		ProviderStatus: created.Status,
		RawPayload:     resp.Body,
	}, nil
}

func approvalLink(links []link) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// FetchCanonicalStatus captures the order. Repeated calls reuse the same
// PayPal-Request-Id, and an order that was already captured (or not yet
// approved) is read back instead.
func (p *PayPalAdapter) FetchCanonicalStatus(ctx context.Context, transactionID string) (adapter.RemoteStatus, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(transactionID)
	resp, err := p.call(ctx, http.MethodPost, path+"/capture", []byte("{}"), "capture-"+transactionID)
	if err != nil {
		return adapter.RemoteStatus{}, err
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var perr PayPalErrorResponse
		_ = json.Unmarshal(resp.Body, &perr)
		switch perr.issue() {
		case "ORDER_ALREADY_CAPTURED", "ORDER_NOT_APPROVED":
			resp, err = p.call(ctx, http.MethodGet, path, nil, "")
			if err != nil {
				return adapter.RemoteStatus{}, err
			}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.RemoteStatus{}, errorFromResponse(resp)
	}

	var o order
	if err := json.Unmarshal(resp.Body, &o); err != nil {
		return adapter.RemoteStatus{}, &adapter.ProviderError{
			Provider: providerName, Class: payment.ErrProviderUnavailable, HTTPStatus: resp.StatusCode,
			ErrorCode: "PAYPAL_MALFORMED_RESPONSE", ErrorMessage: err.Error(),
		}
	}
	return adapter.RemoteStatus{TransactionID: o.ID, ProviderStatus: orderOutcome(o), RawPayload: resp.Body}, nil
}

// orderOutcome prefers the capture status: a COMPLETED order may still carry
// a DECLINED or PENDING capture.
func orderOutcome(o order) string {
	for _, pu := range o.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			if c.Status != "" {
				return c.Status
			}
		}
	}
	return o.Status
}

// call sends an authenticated JSON request with retries. A 401 drops the
// cached token and resends once with a fresh one. An auth failure that
// survives the refresh is a credentials problem and is reported as
// ErrProviderUnavailable, never as a payer or signature error.
func (p *PayPalAdapter) call(ctx context.Context, method, path string, body []byte, requestID string) (adapter.Response, error) {
	resp, err := p.send(ctx, method, path, body, requestID)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		p.invalidateToken()
		resp, err = p.send(ctx, method, path, body, requestID)
	}
	if err != nil {
		return adapter.Response{}, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if resp.StatusCode == http.StatusUnauthorized {
			p.invalidateToken()
		}
		perr := errorFromResponse(resp)
		perr.Class = payment.ErrProviderUnavailable
		return adapter.Response{}, perr
	}
	return resp, nil
}

func (p *PayPalAdapter) send(ctx context.Context, method, path string, body []byte, requestID string) (adapter.Response, error) {
	token, err := p.token(ctx)
	if err != nil {
		return adapter.Response{}, err
	}
	resp, err := adapter.Send(ctx, p.httpClient, p.retry, func(ctx context.Context) (*http.Request, error) {
		var r *http.Request
		var err error
		if body != nil {
			r, err = http.NewRequestWithContext(ctx, method, p.apiBaseURL+path, bytes.NewReader(body))
		} else {
			r, err = http.NewRequestWithContext(ctx, method, p.apiBaseURL+path, nil)
		}
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", "Bearer "+token)
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Prefer", "return=representation")
		if requestID != "" {
			r.Header.Set("PayPal-Request-Id", requestID)
		}
		return r, nil
	})
	if err != nil {
		return adapter.Response{}, adapter.NetworkError(providerName, err)
	}
	return resp, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// token returns a cached client-credentials access token, refreshing it
// shortly before expiry.
func (p *PayPalAdapter) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && p.now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := []byte(url.Values{"grant_type": {"client_credentials"}}.Encode())
	resp, err := adapter.Send(ctx, p.httpClient, p.retry, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBaseURL+"/v1/oauth2/token", bytes.NewReader(form))
		if err != nil {
			return nil, err
		}
		r.SetBasicAuth(p.clientID, p.clientSecret)
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r, nil
	})
	if err != nil {
		return "", adapter.NetworkError(providerName, err)
	}
	if resp.StatusCode != http.StatusOK {
		perr := errorFromResponse(resp)
		if resp.StatusCode == http.StatusUnauthorized {
			// bad credentials are a configuration problem, not a payer one
			perr.Class = payment.ErrProviderUnavailable
		}
		return "", perr
	}

	var tok tokenResponse
	if err := json.Unmarshal(resp.Body, &tok); err != nil || tok.AccessToken == "" {
		return "", &adapter.ProviderError{
			Provider: providerName, Class: payment.ErrProviderUnavailable, HTTPStatus: resp.StatusCode,
			ErrorCode: "PAYPAL_MALFORMED_TOKEN", ErrorMessage: "token response without access_token",
		}
	}
	p.accessToken = tok.AccessToken
	p.tokenExpiry = p.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpiryMargin)
	return p.accessToken, nil
}

func (p *PayPalAdapter) invalidateToken() {
	p.mu.Lock()
	p.accessToken = ""
	p.mu.Unlock()
}

func errorFromResponse(resp adapter.Response) *adapter.ProviderError {
	var perr PayPalErrorResponse
	if err := json.Unmarshal(resp.Body, &perr); err == nil && (perr.Name != "" || perr.Message != "") {
		msg := perr.Message
		if perr.DebugID != "" {
			msg += " (debug_id " + perr.DebugID + ")"
		}
		return adapter.ClassifyHTTPStatus(providerName, resp.StatusCode, perr.issue(), msg)
	}
	return adapter.ClassifyHTTPStatus(providerName, resp.StatusCode, fmt.Sprintf("PAYPAL_HTTP_%d", resp.StatusCode), string(resp.Body))
}

var _ adapter.Gateway = (*PayPalAdapter)(nil)
