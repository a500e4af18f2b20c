// Package policy evaluates operator-defined acceptance rules against a
// payment before any provider is contacted.
package policy

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-reconciler/internal/payment"
)

// Rule is a named boolean expression. The payment is accepted only if every
// rule evaluates to true. Available parameters: amount, currency, method,
// itemCount.
type Rule struct {
	ID         string `mapstructure:"id"`
	Expression string `mapstructure:"expression"`
}

// Input carries the values exposed to rule expressions.
type Input struct {
	Amount    decimal.Decimal
	Currency  string
	Method    string
	ItemCount int
}

type compiledRule struct {
	id   string
	expr *govaluate.EvaluableExpression
}

// PaymentPolicyEnforcer holds compiled rules. It is safe for concurrent use.
type PaymentPolicyEnforcer struct {
	rules []compiledRule
}

// NewPaymentPolicyEnforcer compiles rules up front so a bad expression fails
// at startup rather than on the first payment.
func NewPaymentPolicyEnforcer(rules []Rule) (*PaymentPolicyEnforcer, error) {
	ppe := &PaymentPolicyEnforcer{}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Expression) == "" {
			return nil, fmt.Errorf("policy rule ID '%s' has an empty expression", r.ID)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("policy rule ID '%s' is defined twice", r.ID)
		}
		seen[r.ID] = true

		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule ID '%s': %w", r.ID, err)
		}
		ppe.rules = append(ppe.rules, compiledRule{id: r.ID, expr: expr})
	}
	return ppe, nil
}

// Evaluate returns an error wrapping payment.ErrPolicyRejected naming the
// first rule that evaluates to false. A rule that cannot be evaluated, or
// yields a non-boolean, is a configuration error and is returned as is.
func (ppe *PaymentPolicyEnforcer) Evaluate(in Input) error {
	if len(ppe.rules) == 0 {
		return nil
	}
	amount, _ := in.Amount.Float64()
	params := map[string]interface{}{
		"amount":    amount,
		"currency":  strings.ToUpper(in.Currency),
		"method":    in.Method,
		"itemCount": float64(in.ItemCount),
	}

	for _, r := range ppe.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			return fmt.Errorf("policy rule '%s': %w", r.id, err)
		}
		ok, isBool := result.(bool)
		if !isBool {
			return fmt.Errorf("policy rule '%s' returned %T, want bool", r.id, result)
		}
		if !ok {
			return fmt.Errorf("%w: rule %s", payment.ErrPolicyRejected, r.id)
		}
	}
	return nil
}
