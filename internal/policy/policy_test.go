package policy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-reconciler/internal/payment"
)

func TestNewPaymentPolicyEnforcer_EmptyAndNilRules(t *testing.T) {
	ppe, err := NewPaymentPolicyEnforcer(nil)
	require.NoError(t, err)
	assert.NotNil(t, ppe)
	assert.Empty(t, ppe.rules)

	ppe, err = NewPaymentPolicyEnforcer([]Rule{})
	require.NoError(t, err)
	assert.Empty(t, ppe.rules)
	assert.NoError(t, ppe.Evaluate(Input{Amount: decimal.NewFromInt(1)}))
}

func TestNewPaymentPolicyEnforcer_CompilationError(t *testing.T) {
	rules := []Rule{
		{ID: "rule1", Expression: "amount > 0"},
		{ID: "rule2", Expression: "currency =="},
	}
	_, err := NewPaymentPolicyEnforcer(rules)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile rule ID 'rule2'")
}

func TestNewPaymentPolicyEnforcer_EmptyExpressionInRule(t *testing.T) {
	_, err := NewPaymentPolicyEnforcer([]Rule{{ID: "empty_expr_rule", Expression: "  "}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy rule ID 'empty_expr_rule' has an empty expression")
}

func TestNewPaymentPolicyEnforcer_DuplicateID(t *testing.T) {
	_, err := NewPaymentPolicyEnforcer([]Rule{
		{ID: "max", Expression: "amount < 10"},
		{ID: "max", Expression: "amount < 20"},
	})
	assert.Error(t, err)
}

func TestPaymentPolicyEnforcer_Evaluate(t *testing.T) {
	ppe, err := NewPaymentPolicyEnforcer([]Rule{
		{ID: "max_amount", Expression: "amount <= 10000"},
		{ID: "paypal_currencies", Expression: "method != 'paypal' || currency in ('USD', 'EUR', 'GBP')"},
		{ID: "non_empty", Expression: "itemCount > 0"},
	})
	require.NoError(t, err)

	t.Run("Accepted", func(t *testing.T) {
		err := ppe.Evaluate(Input{Amount: decimal.RequireFromString("49.99"), Currency: "usd", Method: "paypal", ItemCount: 1})
		assert.NoError(t, err)
	})

	t.Run("AmountTooLarge", func(t *testing.T) {
		err := ppe.Evaluate(Input{Amount: decimal.NewFromInt(20000), Currency: "USD", Method: "stripe", ItemCount: 1})
		require.ErrorIs(t, err, payment.ErrPolicyRejected)
		assert.Contains(t, err.Error(), "max_amount")
	})

	t.Run("CurrencyNotAllowedForMethod", func(t *testing.T) {
		err := ppe.Evaluate(Input{Amount: decimal.NewFromInt(5), Currency: "JPY", Method: "paypal", ItemCount: 1})
		require.ErrorIs(t, err, payment.ErrPolicyRejected)
		assert.Contains(t, err.Error(), "paypal_currencies")

		assert.NoError(t, ppe.Evaluate(Input{Amount: decimal.NewFromInt(5), Currency: "JPY", Method: "stripe", ItemCount: 1}))
	})
}

func TestPaymentPolicyEnforcer_Evaluate_NonBoolean(t *testing.T) {
	ppe, err := NewPaymentPolicyEnforcer([]Rule{{ID: "arith", Expression: "amount * 2"}})
	require.NoError(t, err)

	err = ppe.Evaluate(Input{Amount: decimal.NewFromInt(5)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, payment.ErrPolicyRejected)
}

func TestPaymentPolicyEnforcer_Evaluate_UnknownParameter(t *testing.T) {
	ppe, err := NewPaymentPolicyEnforcer([]Rule{{ID: "bad_param", Expression: "region == 'EU'"}})
	require.NoError(t, err)

	err = ppe.Evaluate(Input{Amount: decimal.NewFromInt(5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad_param")
}
