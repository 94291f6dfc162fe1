package types

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places every stored amount keeps
// (NUMERIC(19, 2) columns).
const MoneyScale = 2

// IsMoneyAmount reports whether d is representable at MoneyScale without
// rounding. Trailing zeros are fine: 1.500 is an amount, 0.005 is not.
func IsMoneyAmount(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}
