package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places every stored amount is rounded to.
const MoneyPlaces = 2

// Money rounds d to two places (half-to-even) and clamps negatives to zero.
func Money(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.RoundBank(MoneyPlaces)
}
