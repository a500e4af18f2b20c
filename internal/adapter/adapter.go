// Package adapter defines the contract every payment provider gateway
// implements. One implementation exists per provider, selected by the
// payment method discriminator ("stripe", "paypal").
package adapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-reconciler/internal/payment"
)

// RemotePaymentRequest describes the remote resource to create.
type RemotePaymentRequest struct {
	Amount   decimal.Decimal
	Currency string
	// ReferenceID ties the remote resource to the cart it pays for.
	ReferenceID string
	// IdempotencyKey is reused on every retry of the same creation.
	IdempotencyKey string
}

// RemotePayment is the provider's answer to a successful creation.
type RemotePayment struct {
	TransactionID  string
	ClientHandoff  string // approval URL or client secret
	ProviderStatus string
	RawPayload     []byte
}

// VerifiedEvent is a notification whose authenticity has been established.
// An empty ProviderStatus marks an informational event.
type VerifiedEvent struct {
	EventID        string
	EventType      string
	TransactionID  string
	ProviderStatus string
	RawPayload     []byte
}

// RemoteStatus is the provider's authoritative view of a transaction.
type RemoteStatus struct {
	TransactionID  string
	ProviderStatus string
	RawPayload     []byte
}

// Gateway is implemented by every provider adapter.
type Gateway interface {
	GetName() string
	CreateRemotePayment(ctx context.Context, req RemotePaymentRequest) (RemotePayment, error)
	// VerifyNotification authenticates a raw notification body. Failures wrap
	// payment.ErrSignature. The secret used is fixed at construction.
	VerifyNotification(ctx context.Context, payload []byte, header http.Header) (VerifiedEvent, error)
	// FetchCanonicalStatus is safe to call repeatedly for the same transaction.
	FetchCanonicalStatus(ctx context.Context, transactionID string) (RemoteStatus, error)
}

// ProviderError carries the provider's own error details while classifying
// the failure as payment.ErrProviderRejected or payment.ErrProviderUnavailable.
type ProviderError struct {
	Provider     string
	Class        error
	HTTPStatus   int
	ErrorCode    string
	ErrorMessage string
}

func (e *ProviderError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: %v (HTTP %d, code=%s): %s", e.Provider, e.Class, e.HTTPStatus, e.ErrorCode, e.ErrorMessage)
	}
	return fmt.Sprintf("%s: %v (code=%s): %s", e.Provider, e.Class, e.ErrorCode, e.ErrorMessage)
}

func (e *ProviderError) Unwrap() error { return e.Class }

// ClassifyHTTPStatus builds a ProviderError for a non-2xx provider answer.
func ClassifyHTTPStatus(provider string, status int, code, message string) *ProviderError {
	class := payment.ErrProviderRejected
	if IsRetryableStatus(status) {
		class = payment.ErrProviderUnavailable
	}
	if code == "" {
		code = fmt.Sprintf("%s_HTTP_%d", provider, status)
	}
	return &ProviderError{Provider: provider, Class: class, HTTPStatus: status, ErrorCode: code, ErrorMessage: message}
}

// NetworkError builds a ProviderError for a transport failure.
func NetworkError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider:     provider,
		Class:        payment.ErrProviderUnavailable,
		ErrorCode:    provider + "_NETWORK_ERROR",
		ErrorMessage: err.Error(),
	}
}
