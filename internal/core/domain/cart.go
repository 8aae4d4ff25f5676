package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type CartLine struct {
	ProductID       int64           `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.PriceAtPurchase.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart accumulates product quantities for one user between requests.
type Cart struct {
	UserID    int64              `json:"user_id"`
	Items     map[int64]CartLine `json:"items"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func NewCart(userID int64) *Cart {
	return &Cart{UserID: userID, Items: make(map[int64]CartLine)}
}

// Add puts quantity units of product into the cart. With override the stored
// quantity is replaced, otherwise it is increased. The result is clamped to
// [1, product.Stock]; a product that is out of stock is dropped instead.
func (c *Cart) Add(product Product, quantity int, override bool) {
	if c.Items == nil {
		c.Items = make(map[int64]CartLine)
	}
	line, ok := c.Items[product.ID]
	if !ok {
		line = CartLine{ProductID: product.ID, PriceAtPurchase: product.Price}
	}
	if product.Stock <= 0 {
		delete(c.Items, product.ID)
		return
	}

	next := quantity
	if !override {
		next = line.Quantity + quantity
	}
	next = max(next, 1)
	next = min(next, product.Stock)

	line.Quantity = next
	c.Items[product.ID] = line
	c.UpdatedAt = time.Now()
}

func (c *Cart) Remove(productID int64) {
	if _, ok := c.Items[productID]; !ok {
		return
	}
	delete(c.Items, productID)
	c.UpdatedAt = time.Now()
}

func (c *Cart) Clear() {
	c.Items = make(map[int64]CartLine)
	c.UpdatedAt = time.Now()
}

// Lines returns the cart lines ordered by product id.
func (c *Cart) Lines() []CartLine {
	lines := make([]CartLine, 0, len(c.Items))
	for _, l := range c.Items {
		lines = append(lines, l)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Items {
		total = total.Add(l.LineTotal())
	}
	return total
}

// Count is the number of units across all lines.
func (c *Cart) Count() int {
	n := 0
	for _, l := range c.Items {
		n += l.Quantity
	}
	return n
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}
