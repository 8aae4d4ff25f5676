package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// CartItemView is a cart line joined with the product's current state.
// Product is nil when the product has since been removed from the catalog.
type CartItemView struct {
	Product         *domain.Product `json:"product"`
	ProductID       int64           `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

type CartView struct {
	Items []CartItemView  `json:"items"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type CartService struct {
	carts    port.CartStore
	products port.ProductRepository
	logger   *zap.Logger
}

func NewCartService(carts port.CartStore, products port.ProductRepository, logger *zap.Logger) *CartService {
	return &CartService{carts: carts, products: products, logger: logger}
}

func (s *CartService) Get(ctx context.Context, userID int64) (*domain.Cart, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

// Add increases the quantity of productID in the user's cart.
func (s *CartService) Add(ctx context.Context, userID, productID int64, quantity int) (*domain.Cart, error) {
	return s.put(ctx, userID, productID, quantity, false)
}

// Update replaces the quantity of productID in the user's cart.
func (s *CartService) Update(ctx context.Context, userID, productID int64, quantity int) (*domain.Cart, error) {
	return s.put(ctx, userID, productID, quantity, true)
}

func (s *CartService) put(ctx context.Context, userID, productID int64, quantity int, override bool) (*domain.Cart, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	cart.Add(*product, requestQuantity(quantity, product.Stock), override)

	if err := s.carts.SaveCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) Remove(ctx context.Context, userID, productID int64) (*domain.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	cart.Remove(productID)
	if err := s.carts.SaveCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) Clear(ctx context.Context, userID int64) error {
	if err := s.carts.DeleteCart(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// View resolves every line against the catalog for display.
func (s *CartService) View(ctx context.Context, userID int64) (*CartView, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	lines := cart.Lines()

	products, err := s.products.GetProducts(ctx, productIDs(lines))
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}

	view := &CartView{Items: make([]CartItemView, 0, len(lines)), Count: cart.Count(), Total: cart.Total()}
	for _, l := range lines {
		item := CartItemView{
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			PriceAtPurchase: l.PriceAtPurchase,
			LineTotal:       l.LineTotal(),
		}
		if p, ok := products[l.ProductID]; ok {
			item.Product = &p
		} else {
			s.logger.Debug("cart line references missing product",
				zap.Int64("user_id", userID),
				zap.Int64("product_id", l.ProductID),
			)
		}
		view.Items = append(view.Items, item)
	}
	return view, nil
}

// requestQuantity applies the request-level coercion: at least one unit and,
// for products in stock, no more than the stock.
func requestQuantity(quantity, stock int) int {
	quantity = max(quantity, 1)
	if stock > 0 {
		quantity = min(quantity, stock)
	}
	return quantity
}
