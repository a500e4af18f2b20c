package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCart is returned when the cart snapshot cannot be paid for:
	// unknown cart, no items, non-positive amount or another user's cart.
	ErrInvalidCart = errors.New("invalid cart")

	// ErrUnsupportedMethod is returned for a payment method with no registered gateway.
	ErrUnsupportedMethod = errors.New("unsupported payment method")

	// ErrPolicyRejected is returned when an acceptance rule refuses the payment.
	ErrPolicyRejected = errors.New("payment rejected by policy")

	// ErrProviderRejected covers 4xx answers from a provider.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrProviderUnavailable covers network failures, timeouts, 429 and 5xx answers.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrSignature is returned when a notification fails authenticity checks.
	ErrSignature = errors.New("notification signature invalid")

	// ErrPaymentNotFound is returned when no payment matches an id or transaction id.
	ErrPaymentNotFound = errors.New("payment not found")
)

// InvariantViolation signals an attempted transition out of a terminal state
// or into a non-terminal one. It is raised with panic, never returned.
type InvariantViolation struct {
	PaymentID string
	From      Status
	To        Status
}

func (v InvariantViolation) Error() string {
	return fmt.Sprintf("payment %s: illegal transition %s -> %s", v.PaymentID, v.From, v.To)
}
