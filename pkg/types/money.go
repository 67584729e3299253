package types

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CentsToDecimal renders minor units as a two-place decimal amount.
func CentsToDecimal(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(hundred).Round(2)
}

// DecimalToCents converts a decimal amount to minor units, rounding half up.
func DecimalToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// Money is the JSON shape used for amounts in API payloads.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds a Money value from minor units.
func NewMoney(cents int64, currency string) Money {
	return Money{Amount: CentsToDecimal(cents), Currency: currency}
}
