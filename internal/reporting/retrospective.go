// Package reporting turns ledger aggregates into operator-facing reports.
package reporting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-reconciler/internal/ledger"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

// PendingEntry is a payment still awaiting its provider outcome.
type PendingEntry struct {
	PaymentID     string        `json:"paymentId"`
	Method        string        `json:"method"`
	TransactionID string        `json:"transactionId"`
	CreatedAt     time.Time     `json:"createdAt"`
	Age           time.Duration `json:"ageNanos"`
}

// RetrospectiveReport summarizes the ledger for operators. OldestPending is
// the work list for manual reconciliation of payments whose notification
// never arrived.
type RetrospectiveReport struct {
	TotalPayments             int                        `json:"totalPayments"`
	CountByStatus             map[string]int             `json:"countByStatus"`
	CountByMethod             map[string]int             `json:"countByMethod"`
	CompletedAmountByCurrency map[string]decimal.Decimal `json:"completedAmountByCurrency"`
	OldestPending             []PendingEntry             `json:"oldestPending"`
	DateFrom                  time.Time                  `json:"dateFrom"`
	DateTo                    time.Time                  `json:"dateTo"`
	GeneratedAt               time.Time                  `json:"generatedAt"`
}

// RetrospectiveReporter generates reports from ledger aggregates.
type RetrospectiveReporter struct {
	pendingLimit int
}

// NewRetrospectiveReporter creates a reporter listing at most pendingLimit
// pending payments (10 when pendingLimit <= 0).
func NewRetrospectiveReporter(pendingLimit int) *RetrospectiveReporter {
	if pendingLimit <= 0 {
		pendingLimit = 10
	}
	return &RetrospectiveReporter{pendingLimit: pendingLimit}
}

// PendingLimit is how many of the oldest pending payments a report lists.
func (rr *RetrospectiveReporter) PendingLimit() int {
	return rr.pendingLimit
}

// GenerateRetrospective builds the report from summary and the oldest
// pending payments. pending is sorted and cut to PendingLimit here as well,
// so callers may pass a superset.
func (rr *RetrospectiveReporter) GenerateRetrospective(summary ledger.Summary, pending []payment.Payment, now time.Time) *RetrospectiveReport {
	report := &RetrospectiveReport{
		TotalPayments:             summary.Total,
		CountByStatus:             make(map[string]int, len(summary.CountByStatus)),
		CountByMethod:             make(map[string]int, len(summary.CountByMethod)),
		CompletedAmountByCurrency: make(map[string]decimal.Decimal, len(summary.CompletedAmountByCurrency)),
		OldestPending:             []PendingEntry{},
		DateFrom:                  summary.FirstCreatedAt,
		DateTo:                    summary.LastCreatedAt,
		GeneratedAt:               now.UTC(),
	}
	for status, n := range summary.CountByStatus {
		report.CountByStatus[string(status)] = n
	}
	for method, n := range summary.CountByMethod {
		report.CountByMethod[method] = n
	}
	for currency, amount := range summary.CompletedAmountByCurrency {
		report.CompletedAmountByCurrency[currency] = amount
	}

	oldest := make([]payment.Payment, 0, len(pending))
	for _, p := range pending {
		if p.Status == payment.StatusPending {
			oldest = append(oldest, p)
		}
	}
	sort.SliceStable(oldest, func(i, j int) bool {
		return oldest[i].CreatedAt.Before(oldest[j].CreatedAt)
	})
	if len(oldest) > rr.pendingLimit {
		oldest = oldest[:rr.pendingLimit]
	}
	for _, p := range oldest {
		report.OldestPending = append(report.OldestPending, PendingEntry{
			PaymentID:     p.ID,
			Method:        p.Method,
			TransactionID: p.TransactionID,
			CreatedAt:     p.CreatedAt,
			Age:           now.Sub(p.CreatedAt),
		})
	}
	return report
}
