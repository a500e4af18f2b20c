// Package postgres implements the ledger on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-reconciler/internal/ledger"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

const uniqueViolation = "23505"

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Ledger stores payments in the payments table.
type Ledger struct {
	pool DBPool
}

// New returns a Ledger backed by pool.
func New(pool DBPool) *Ledger {
	return &Ledger{pool: pool}
}

const selectColumns = `id, cart_id, user_id, amount::text, currency, method, transaction_id, status, provider_response, created_at, updated_at`

// Insert writes a pending payment. The unique index on transaction_id makes a
// reused transaction id surface as ledger.ErrDuplicateTransaction.
func (l *Ledger) Insert(ctx context.Context, p payment.Payment) error {
	if p.Status != payment.StatusPending {
		return fmt.Errorf("postgres ledger: new payment %s must be pending, got %s", p.ID, p.Status)
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO payments (id, cart_id, user_id, amount, currency, method, transaction_id, status, provider_response, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.CartID, p.UserID, p.Amount.String(), p.Currency, p.Method, p.TransactionID,
		string(p.Status), p.ProviderResponse, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, "transaction_id") {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateTransaction, p.TransactionID)
		}
		return fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	return nil
}

// GetByID loads the payment with id.
func (l *Ledger) GetByID(ctx context.Context, id string) (payment.Payment, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM payments WHERE id = $1`, id)
	return scanOne(row)
}

// GetByTransactionID loads the payment recorded for transactionID.
func (l *Ledger) GetByTransactionID(ctx context.Context, transactionID string) (payment.Payment, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM payments WHERE transaction_id = $1`, transactionID)
	return scanOne(row)
}

// Transition is a single conditional UPDATE; zero affected rows means the
// payment was already terminal (or does not exist).
func (l *Ledger) Transition(ctx context.Context, id string, to payment.Status, providerResponse []byte) (payment.Payment, bool, error) {
	payment.MustBeTerminal(id, "", to)

	row := l.pool.QueryRow(ctx, `
		UPDATE payments
		SET status = $2, provider_response = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+selectColumns, id, string(to), providerResponse)
	p, err := scanOne(row)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, payment.ErrPaymentNotFound) {
		return payment.Payment{}, false, fmt.Errorf("transition payment %s: %w", id, err)
	}

	current, err := l.GetByID(ctx, id)
	if err != nil {
		return payment.Payment{}, false, err
	}
	return current, false, nil
}

// List builds the query from filter; rows are ordered by created_at, then id.
func (l *Ledger) List(ctx context.Context, filter ledger.ListFilter) ([]payment.Payment, error) {
	query := `SELECT ` + selectColumns + ` FROM payments`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []payment.Payment
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return out, nil
}

// Summary aggregates in the database: one grouped pass for counts and
// creation range, one for completed totals.
func (l *Ledger) Summary(ctx context.Context) (ledger.Summary, error) {
	sum := ledger.NewSummary()

	rows, err := l.pool.Query(ctx, `
		SELECT status, method, count(*), min(created_at), max(created_at)
		FROM payments
		GROUP BY status, method
	`)
	if err != nil {
		return ledger.Summary{}, fmt.Errorf("summarize payments: %w", err)
	}
	for rows.Next() {
		var (
			status, method string
			count          int64
			first, last    time.Time
		)
		if err := rows.Scan(&status, &method, &count, &first, &last); err != nil {
			rows.Close()
			return ledger.Summary{}, fmt.Errorf("summarize payments: %w", err)
		}
		st, err := payment.ParseStatus(status)
		if err != nil {
			rows.Close()
			return ledger.Summary{}, err
		}
		sum.Total += int(count)
		sum.CountByStatus[st] += int(count)
		sum.CountByMethod[method] += int(count)
		if sum.FirstCreatedAt.IsZero() || first.Before(sum.FirstCreatedAt) {
			sum.FirstCreatedAt = first.UTC()
		}
		if last.After(sum.LastCreatedAt) {
			sum.LastCreatedAt = last.UTC()
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ledger.Summary{}, fmt.Errorf("summarize payments: %w", err)
	}

	rows, err = l.pool.Query(ctx, `
		SELECT currency, sum(amount)::text
		FROM payments
		WHERE status = 'completed'
		GROUP BY currency
	`)
	if err != nil {
		return ledger.Summary{}, fmt.Errorf("sum completed payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var currency, total string
		if err := rows.Scan(&currency, &total); err != nil {
			return ledger.Summary{}, fmt.Errorf("sum completed payments: %w", err)
		}
		amount, err := decimal.NewFromString(total)
		if err != nil {
			return ledger.Summary{}, fmt.Errorf("completed total for %s: bad amount %q: %w", currency, total, err)
		}
		sum.CompletedAmountByCurrency[currency] = amount
	}
	if err := rows.Err(); err != nil {
		return ledger.Summary{}, fmt.Errorf("sum completed payments: %w", err)
	}
	return sum, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row pgx.Row) (payment.Payment, error) {
	p, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Payment{}, payment.ErrPaymentNotFound
	}
	return p, err
}

func scan(row scanner) (payment.Payment, error) {
	var (
		p         payment.Payment
		amount    string
		status    string
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&p.ID, &p.CartID, &p.UserID, &amount, &p.Currency, &p.Method,
		&p.TransactionID, &status, &p.ProviderResponse, &createdAt, &updatedAt); err != nil {
		return payment.Payment{}, err
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return payment.Payment{}, fmt.Errorf("payment %s: bad amount %q: %w", p.ID, amount, err)
	}
	if p.Status, err = payment.ParseStatus(status); err != nil {
		return payment.Payment{}, err
	}
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()
	return p, nil
}

var _ ledger.Ledger = (*Ledger)(nil)
