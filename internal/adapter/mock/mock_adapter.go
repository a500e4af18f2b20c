package mock

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

// MockAdapter is a scriptable adapter.Gateway for tests and local runs.
type MockAdapter struct {
	Name       string
	CreateFunc func(ctx context.Context, req adapter.RemotePaymentRequest) (adapter.RemotePayment, error)
	VerifyFunc func(ctx context.Context, payload []byte, header http.Header) (adapter.VerifiedEvent, error)
	FetchFunc  func(ctx context.Context, transactionID string) (adapter.RemoteStatus, error)

	createCalls int32
	verifyCalls int32
	fetchCalls  int32
}

// NewMockAdapter creates a new MockAdapter.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{Name: name}
}

// GetName implements adapter.Gateway.
func (m *MockAdapter) GetName() string {
	return m.Name
}

// CreateRemotePayment calls CreateFunc if set, otherwise returns a fresh
// transaction id and an approval link.
func (m *MockAdapter) CreateRemotePayment(ctx context.Context, req adapter.RemotePaymentRequest) (adapter.RemotePayment, error) {
	atomic.AddInt32(&m.createCalls, 1)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}
	txID := m.Name + "_" + uuid.NewString()
	return adapter.RemotePayment{
		TransactionID:  txID,
		ClientHandoff:  "https://mock.invalid/approve/" + txID,
		ProviderStatus: "created",
		RawPayload:     []byte(fmt.Sprintf(`{"id":%q,"status":"created"}`, txID)),
	}, nil
}

// VerifyNotification calls VerifyFunc if set. Without one nothing verifies.
func (m *MockAdapter) VerifyNotification(ctx context.Context, payload []byte, header http.Header) (adapter.VerifiedEvent, error) {
	atomic.AddInt32(&m.verifyCalls, 1)
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, payload, header)
	}
	return adapter.VerifiedEvent{}, fmt.Errorf("%s: %w: no verifier configured", m.Name, payment.ErrSignature)
}

// FetchCanonicalStatus calls FetchFunc if set, otherwise reports "completed".
func (m *MockAdapter) FetchCanonicalStatus(ctx context.Context, transactionID string) (adapter.RemoteStatus, error) {
	atomic.AddInt32(&m.fetchCalls, 1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, transactionID)
	}
	return adapter.RemoteStatus{
		TransactionID:  transactionID,
		ProviderStatus: "completed",
		RawPayload:     []byte(fmt.Sprintf(`{"id":%q,"status":"COMPLETED"}`, transactionID)),
	}, nil
}

func (m *MockAdapter) CreateCalls() int { return int(atomic.LoadInt32(&m.createCalls)) }
func (m *MockAdapter) VerifyCalls() int { return int(atomic.LoadInt32(&m.verifyCalls)) }
func (m *MockAdapter) FetchCalls() int  { return int(atomic.LoadInt32(&m.fetchCalls)) }

var _ adapter.Gateway = (*MockAdapter)(nil)
