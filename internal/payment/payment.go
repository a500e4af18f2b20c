// Package payment holds the payment record, its status machine and the
// error taxonomy shared by the gateways, the ledger and the orchestrator.
package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the local lifecycle state of a payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus converts a persisted status string back into a Status.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("payment: unknown status %q", raw)
	}
}

// Payment is the locally persisted record of one attempt to pay for a cart.
// CartID, UserID, Amount, Currency, Method and TransactionID never change
// after creation.
type Payment struct {
	ID               string
	CartID           string
	UserID           string
	Amount           decimal.Decimal
	Currency         string
	Method           string
	TransactionID    string
	Status           Status
	ProviderResponse []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Apply moves a pending payment into the terminal status to, recording the
// provider representation that justified it. Leaving a terminal status or
// targeting pending is a programming error and panics with InvariantViolation;
// callers are expected to have checked the guard first.
func (p *Payment) Apply(to Status, providerResponse []byte, at time.Time) {
	MustBeTerminal(p.ID, p.Status, to)
	if p.Status != StatusPending {
		panic(InvariantViolation{PaymentID: p.ID, From: p.Status, To: to})
	}
	p.Status = to
	p.ProviderResponse = append([]byte(nil), providerResponse...)
	p.UpdatedAt = at.UTC()
}

// MustBeTerminal panics unless to is a terminal status.
func MustBeTerminal(id string, from, to Status) {
	if !to.IsTerminal() {
		panic(InvariantViolation{PaymentID: id, From: from, To: to})
	}
}

// MapProviderStatus normalizes a provider-reported status string.
// ok is false for informational statuses that must not trigger a transition.
func MapProviderStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "completed", "captured":
		return StatusCompleted, true
	case "failed", "denied", "declined", "cancelled", "canceled", "voided":
		return StatusFailed, true
	default:
		return "", false
	}
}
