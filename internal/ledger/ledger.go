// Package ledger defines the durable store of payments. Every implementation
// applies status transitions as a compare-and-swap on status = pending, so
// concurrent reconciliations of one payment apply at most one transition.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-reconciler/internal/payment"
)

// ErrDuplicateTransaction is returned by Insert when the transaction id is
// already recorded for another payment.
var ErrDuplicateTransaction = errors.New("ledger: transaction id already recorded")

// ListFilter narrows List. Zero values mean no filtering; Limit <= 0 means no limit.
type ListFilter struct {
	Status payment.Status
	Limit  int
}

// Summary aggregates every payment without materializing them. The
// timestamps are zero when the ledger is empty.
type Summary struct {
	Total                     int
	CountByStatus             map[payment.Status]int
	CountByMethod             map[string]int
	CompletedAmountByCurrency map[string]decimal.Decimal
	FirstCreatedAt            time.Time
	LastCreatedAt             time.Time
}

// NewSummary returns an empty Summary with its maps allocated.
func NewSummary() Summary {
	return Summary{
		CountByStatus:             make(map[payment.Status]int),
		CountByMethod:             make(map[string]int),
		CompletedAmountByCurrency: make(map[string]decimal.Decimal),
	}
}

// Ledger is the payment store.
type Ledger interface {
	// Insert records a new pending payment, including its transaction id, in one step.
	Insert(ctx context.Context, p payment.Payment) error
	// GetByID returns payment.ErrPaymentNotFound when absent.
	GetByID(ctx context.Context, id string) (payment.Payment, error)
	// GetByTransactionID returns payment.ErrPaymentNotFound when absent.
	GetByTransactionID(ctx context.Context, transactionID string) (payment.Payment, error)
	// Transition moves the payment to the terminal status to only if it is
	// still pending, storing providerResponse. applied is false when the
	// payment was already terminal; the returned payment is then unchanged.
	Transition(ctx context.Context, id string, to payment.Status, providerResponse []byte) (p payment.Payment, applied bool, err error)
	// List returns payments ordered by creation time, oldest first.
	List(ctx context.Context, filter ListFilter) ([]payment.Payment, error)
	// Summary computes counts and completed totals in the store.
	Summary(ctx context.Context) (Summary, error)
}
