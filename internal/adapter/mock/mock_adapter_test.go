package mock

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

func TestNewMockAdapter(t *testing.T) {
	mock := NewMockAdapter("test_mock")
	require.NotNil(t, mock)
	assert.Equal(t, "test_mock", mock.GetName())
}

func TestMockAdapter_DefaultBehavior(t *testing.T) {
	mock := NewMockAdapter("paypal")
	ctx := context.Background()

	remote, err := mock.CreateRemotePayment(ctx, adapter.RemotePaymentRequest{
		Amount: decimal.RequireFromString("49.99"), Currency: "USD", ReferenceID: "cart-1",
	})
	require.NoError(t, err)
	assert.Contains(t, remote.TransactionID, "paypal_")
	assert.Contains(t, remote.ClientHandoff, remote.TransactionID)

	_, err = mock.VerifyNotification(ctx, []byte(`{}`), http.Header{})
	assert.True(t, errors.Is(err, payment.ErrSignature))

	status, err := mock.FetchCanonicalStatus(ctx, remote.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.ProviderStatus)

	assert.Equal(t, 1, mock.CreateCalls())
	assert.Equal(t, 1, mock.VerifyCalls())
	assert.Equal(t, 1, mock.FetchCalls())
}

func TestMockAdapter_CustomFuncs(t *testing.T) {
	mock := NewMockAdapter("stripe")
	mock.CreateFunc = func(ctx context.Context, req adapter.RemotePaymentRequest) (adapter.RemotePayment, error) {
		return adapter.RemotePayment{}, &adapter.ProviderError{Provider: "stripe", Class: payment.ErrProviderRejected, ErrorCode: "card_declined"}
	}
	mock.VerifyFunc = func(ctx context.Context, payload []byte, header http.Header) (adapter.VerifiedEvent, error) {
		return adapter.VerifiedEvent{EventID: "evt_1", TransactionID: "pi_1", ProviderStatus: "succeeded", RawPayload: payload}, nil
	}

	_, err := mock.CreateRemotePayment(context.Background(), adapter.RemotePaymentRequest{})
	assert.True(t, errors.Is(err, payment.ErrProviderRejected))

	ev, err := mock.VerifyNotification(context.Background(), []byte(`{"id":"evt_1"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", ev.TransactionID)
	assert.Equal(t, `{"id":"evt_1"}`, string(ev.RawPayload))
}
