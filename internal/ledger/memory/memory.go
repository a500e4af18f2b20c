// Package memory is an in-process ledger for tests and single-node runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/payment-reconciler/internal/ledger"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

// Ledger keeps payments in maps guarded by a mutex.
type Ledger struct {
	mu     sync.Mutex
	byID   map[string]*payment.Payment
	byTxID map[string]string
	now    func() time.Time
}

// New creates an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{
		byID:   make(map[string]*payment.Payment),
		byTxID: make(map[string]string),
		now:    time.Now,
	}
}

func clone(p *payment.Payment) payment.Payment {
	out := *p
	out.ProviderResponse = append([]byte(nil), p.ProviderResponse...)
	return out
}

// Insert stores a pending payment, rejecting a reused id or transaction id.
func (l *Ledger) Insert(ctx context.Context, p payment.Payment) error {
	if p.Status != payment.StatusPending {
		return fmt.Errorf("memory ledger: new payment %s must be pending, got %s", p.ID, p.Status)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[p.ID]; exists {
		return fmt.Errorf("memory ledger: payment %s already exists", p.ID)
	}
	if _, exists := l.byTxID[p.TransactionID]; exists {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateTransaction, p.TransactionID)
	}
	stored := clone(&p)
	l.byID[p.ID] = &stored
	l.byTxID[p.TransactionID] = p.ID
	return nil
}

// GetByID returns a copy of the payment with id.
func (l *Ledger) GetByID(ctx context.Context, id string) (payment.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byID[id]
	if !ok {
		return payment.Payment{}, payment.ErrPaymentNotFound
	}
	return clone(p), nil
}

// GetByTransactionID returns a copy of the payment recorded for transactionID.
func (l *Ledger) GetByTransactionID(ctx context.Context, transactionID string) (payment.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byTxID[transactionID]
	if !ok {
		return payment.Payment{}, payment.ErrPaymentNotFound
	}
	return clone(l.byID[id]), nil
}

// Transition checks and writes the status under the ledger mutex.
func (l *Ledger) Transition(ctx context.Context, id string, to payment.Status, providerResponse []byte) (payment.Payment, bool, error) {
	payment.MustBeTerminal(id, "", to)

	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byID[id]
	if !ok {
		return payment.Payment{}, false, payment.ErrPaymentNotFound
	}
	if p.Status != payment.StatusPending {
		return clone(p), false, nil
	}
	p.Apply(to, providerResponse, l.now())
	return clone(p), true, nil
}

// List returns copies ordered by creation time, then id.
func (l *Ledger) List(ctx context.Context, filter ledger.ListFilter) ([]payment.Payment, error) {
	l.mu.Lock()
	out := make([]payment.Payment, 0, len(l.byID))
	for _, p := range l.byID {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, clone(p))
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Summary aggregates the stored payments.
func (l *Ledger) Summary(ctx context.Context) (ledger.Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := ledger.NewSummary()
	for _, p := range l.byID {
		sum.Total++
		sum.CountByStatus[p.Status]++
		sum.CountByMethod[p.Method]++
		if p.Status == payment.StatusCompleted {
			sum.CompletedAmountByCurrency[p.Currency] = sum.CompletedAmountByCurrency[p.Currency].Add(p.Amount)
		}
		if sum.FirstCreatedAt.IsZero() || p.CreatedAt.Before(sum.FirstCreatedAt) {
			sum.FirstCreatedAt = p.CreatedAt
		}
		if p.CreatedAt.After(sum.LastCreatedAt) {
			sum.LastCreatedAt = p.CreatedAt
		}
	}
	return sum, nil
}

var _ ledger.Ledger = (*Ledger)(nil)
