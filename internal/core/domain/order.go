package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID          string          `json:"id"`
	UserID      int64           `json:"user_id"`
	Address     string          `json:"address"`
	Lines       []OrderLine     `json:"lines"`
	Total       decimal.Decimal `json:"total"`
	BonusUsed   decimal.Decimal `json:"bonus_used"`
	BonusEarned decimal.Decimal `json:"bonus_earned"`
	Deleted     bool            `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
}

// OrderLine snapshots the unit price at the moment of purchase.
type OrderLine struct {
	ProductID       int64           `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.PriceAtPurchase.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderSummary is what a successful checkout hands back to the caller.
type OrderSummary struct {
	OrderID     string          `json:"order_id"`
	Total       decimal.Decimal `json:"total"`
	BonusUsed   decimal.Decimal `json:"bonus_used"`
	BonusEarned decimal.Decimal `json:"bonus_earned"`
}

func (o Order) Summary() OrderSummary {
	return OrderSummary{
		OrderID:     o.ID,
		Total:       o.Total,
		BonusUsed:   o.BonusUsed,
		BonusEarned: o.BonusEarned,
	}
}
