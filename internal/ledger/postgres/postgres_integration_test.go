//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/yourorg/payment-reconciler/internal/db"
	"github.com/yourorg/payment-reconciler/internal/ledger"
	"github.com/yourorg/payment-reconciler/internal/ledger/postgres"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

func TestPostgresLedgerIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	container, dsn := startPostgres(ctx, t)
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}()

	logger := log.New(io.Discard, "", log.LstdFlags)
	require.NoError(t, db.RunMigrations(dsn, logger))
	// Second run is a no-op.
	require.NoError(t, db.RunMigrations(dsn, logger))

	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	l := postgres.New(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := payment.Payment{
		ID:            "pay-int-1",
		CartID:        "cart-1",
		UserID:        "user-1",
		Amount:        decimal.RequireFromString("19.99"),
		Currency:      "EUR",
		Method:        "paypal",
		TransactionID: "ORDER-1",
		Status:        payment.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, l.Insert(ctx, p))

	dup := p
	dup.ID = "pay-int-2"
	assert.ErrorIs(t, l.Insert(ctx, dup), ledger.ErrDuplicateTransaction)

	got, err := l.GetByTransactionID(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(got.Amount))

	var applied int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := payment.StatusCompleted
			if i%2 == 1 {
				to = payment.StatusFailed
			}
			_, ok, err := l.Transition(ctx, p.ID, to, []byte(fmt.Sprintf(`{"n":%d}`, i)))
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&applied, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), applied)

	final, err := l.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, final.Status.IsTerminal())

	list, err := l.List(ctx, ledger.ListFilter{Status: final.Status})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	sum, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.CountByStatus[final.Status])
	if final.Status == payment.StatusCompleted {
		assert.True(t, p.Amount.Equal(sum.CompletedAmountByCurrency[p.Currency]))
	} else {
		assert.Empty(t, sum.CompletedAmountByCurrency)
	}
}

func startPostgres(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "payments"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/payments?sslmode=disable", host, mappedPort.Port())
	return container, dsn
}
