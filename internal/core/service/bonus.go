package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

// EarnRate is the share of the charged total credited back as bonus.
var EarnRate = decimal.RequireFromString("0.05")

type BonusResult struct {
	Used       decimal.Decimal `json:"bonus_used"`
	Earned     decimal.Decimal `json:"bonus_earned"`
	TotalAfter decimal.Decimal `json:"total_after"`
}

// ParseBonus reads a user-supplied redemption amount. Anything that is not a
// non-negative number counts as zero.
func ParseBonus(raw string) decimal.Decimal {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return domain.Money(amount)
}

// ApplyBonus caps the redemption at the balance, the request and the order
// total, then credits EarnRate of what is left to pay.
func ApplyBonus(available, total, requested decimal.Decimal) BonusResult {
	available = domain.Money(available)
	total = domain.Money(total)
	requested = domain.Money(requested)

	used := decimal.Min(available, requested, total)
	after := total.Sub(used).RoundBank(domain.MoneyPlaces)
	earned := after.Mul(EarnRate).RoundBank(domain.MoneyPlaces)

	return BonusResult{Used: used, Earned: earned, TotalAfter: after}
}
