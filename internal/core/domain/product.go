package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativePrice = errors.New("price must be greater or equal 0")
	ErrNegativeStock = errors.New("stock must be greater or equal 0")
	ErrEmptyName     = errors.New("product name is required")
)

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Deleted   bool            `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate enforces the catalog constraints before a product is written.
func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if p.Price.IsNegative() {
		return ErrNegativePrice
	}
	if p.Stock < 0 {
		return ErrNegativeStock
	}
	return nil
}

// Available reports whether quantity units can be taken from stock.
func (p Product) Available(quantity int) bool {
	return !p.Deleted && p.Stock >= quantity
}
