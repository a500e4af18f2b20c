package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ISO 4217 currencies whose minor unit is not the cent.
var currencyDigits = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "JPY": 0, "KMF": 0, "KRW": 0, "MGA": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "JOD": 3, "KWD": 3, "OMR": 3, "TND": 3,
}

// CurrencyDigits returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyDigits(currency string) int32 {
	if d, ok := currencyDigits[strings.ToUpper(currency)]; ok {
		return d
	}
	return 2
}

// MinorUnits converts amount into the integer minor units of currency
// (49.99 USD -> 4999, 500 JPY -> 500). Amounts finer than the currency's
// minor unit are rejected rather than rounded.
func MinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	digits := CurrencyDigits(currency)
	if !amount.Equal(amount.Truncate(digits)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places for %s", amount, digits, currency)
	}
	return amount.Shift(digits).IntPart(), nil
}

// FormatAmount renders amount with exactly the currency's minor-unit digits.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(CurrencyDigits(currency))
}
