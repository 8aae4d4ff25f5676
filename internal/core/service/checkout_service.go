package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type CheckoutRequest struct {
	UserID         int64
	Lines          []domain.CartLine
	Address        string
	BonusRequested decimal.Decimal
}

type CheckoutService struct {
	products port.ProductRepository
	users    port.UserRepository
	uow      port.UnitOfWork
	carts    port.CartStore
	notifier port.OrderNotifier
	logger   *zap.Logger
}

func NewCheckoutService(
	products port.ProductRepository,
	users port.UserRepository,
	uow port.UnitOfWork,
	carts port.CartStore,
	notifier port.OrderNotifier,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		products: products,
		users:    users,
		uow:      uow,
		carts:    carts,
		notifier: notifier,
		logger:   logger,
	}
}

// Preview computes the bonus figures for a cart total against the user's
// current balance without taking any lock.
func (s *CheckoutService) Preview(ctx context.Context, userID int64, total, requested decimal.Decimal) (BonusResult, decimal.Decimal, error) {
	balance, err := s.users.GetBalance(ctx, userID)
	if err != nil {
		return BonusResult{}, decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return ApplyBonus(balance, total, requested), balance, nil
}

// CartPreview is the bonus preview for the user's stored cart.
type CartPreview struct {
	CartTotal decimal.Decimal
	Balance   decimal.Decimal
	Bonus     BonusResult
}

func (s *CheckoutService) PreviewCart(ctx context.Context, userID int64, requested decimal.Decimal) (*CartPreview, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	total := cart.Total()
	bonus, balance, err := s.Preview(ctx, userID, total, requested)
	if err != nil {
		return nil, err
	}
	return &CartPreview{CartTotal: total, Balance: balance, Bonus: bonus}, nil
}

// CheckoutCart checks out the user's stored cart.
func (s *CheckoutService) CheckoutCart(ctx context.Context, userID int64, address string, requested decimal.Decimal) (*domain.OrderSummary, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return s.Checkout(ctx, CheckoutRequest{
		UserID:         userID,
		Lines:          cart.Lines(),
		Address:        address,
		BonusRequested: requested,
	})
}

// Checkout turns the cart lines into an order. Preconditions are checked
// without locks; stock, balance and the order are then written in one
// transaction. The cart is cleared only after a successful commit.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*domain.OrderSummary, error) {
	lines, err := mergeLines(req.Lines)
	if err != nil {
		return nil, err
	}
	address := strings.TrimSpace(req.Address)
	if err := s.checkPreconditions(ctx, req.UserID, lines, address); err != nil {
		return nil, err
	}

	var order domain.Order
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx port.CheckoutTx) error {
		placed, err := s.placeOrder(ctx, tx, req.UserID, lines, address, req.BonusRequested)
		if err != nil {
			return err
		}
		order = placed
		return nil
	})
	if err != nil {
		if isConflict(err) {
			s.logger.Warn("checkout conflict",
				zap.Int64("user_id", req.UserID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return nil, err
	}

	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.String("bonus_used", order.BonusUsed.StringFixed(2)),
		zap.String("bonus_earned", order.BonusEarned.StringFixed(2)),
	)

	if err := s.carts.DeleteCart(ctx, req.UserID); err != nil {
		s.logger.Error("failed to clear cart after checkout",
			zap.String("order_id", order.ID),
			zap.Int64("user_id", req.UserID),
			zap.Error(err),
		)
	}
	if s.notifier != nil {
		if err := s.notifier.OrderPlaced(ctx, order); err != nil {
			s.logger.Warn("order notification failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	summary := order.Summary()
	return &summary, nil
}

func (s *CheckoutService) checkPreconditions(ctx context.Context, userID int64, lines []domain.CartLine, address string) error {
	if len(lines) == 0 {
		return ErrEmptyCart
	}
	if address == "" {
		return ErrMissingAddress
	}

	contact, err := s.users.GetContactInfo(ctx, userID)
	if err != nil {
		return fmt.Errorf("get contact info: %w", err)
	}
	if missing := contact.MissingFields(); len(missing) > 0 {
		return &IncompleteProfileError{Fields: missing}
	}

	products, err := s.products.GetProducts(ctx, productIDs(lines))
	if err != nil {
		return fmt.Errorf("get products: %w", err)
	}
	return checkStock(lines, products)
}

func (s *CheckoutService) placeOrder(
	ctx context.Context,
	tx port.CheckoutTx,
	userID int64,
	lines []domain.CartLine,
	address string,
	requested decimal.Decimal,
) (domain.Order, error) {
	// user row first, then products ascending: every checkout takes locks in the same order
	balance, err := tx.LockBalance(ctx, userID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("lock balance: %w", err)
	}
	products, err := tx.LockProducts(ctx, productIDs(lines))
	if err != nil {
		return domain.Order{}, fmt.Errorf("lock products: %w", err)
	}

	// stock may have moved between the precondition read and the lock
	if err := checkStock(lines, products); err != nil {
		return domain.Order{}, err
	}

	orderLines := make([]domain.OrderLine, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		ol := domain.OrderLine{
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			PriceAtPurchase: products[l.ProductID].Price,
		}
		orderLines = append(orderLines, ol)
		total = total.Add(ol.Subtotal())
	}

	bonus := ApplyBonus(balance, total, requested)
	order := domain.Order{
		ID:          uuid.New().String(),
		UserID:      userID,
		Address:     address,
		Lines:       orderLines,
		Total:       bonus.TotalAfter,
		BonusUsed:   bonus.Used,
		BonusEarned: bonus.Earned,
		CreatedAt:   time.Now(),
	}

	if err := tx.CreateOrder(ctx, &order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	for _, l := range orderLines {
		if err := tx.DecrementStock(ctx, l.ProductID, l.Quantity); err != nil {
			if errors.Is(err, port.ErrOutOfStock) {
				return domain.Order{}, &InsufficientStockError{ProductID: l.ProductID}
			}
			return domain.Order{}, fmt.Errorf("decrement stock: %w", err)
		}
	}

	newBalance := domain.Money(balance).Sub(bonus.Used).Add(bonus.Earned)
	if err := tx.SetBalance(ctx, userID, newBalance); err != nil {
		return domain.Order{}, fmt.Errorf("set balance: %w", err)
	}

	return order, nil
}

// mergeLines folds duplicate products together and orders lines by product id.
func mergeLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	byID := make(map[int64]domain.CartLine, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
		if existing, ok := byID[l.ProductID]; ok {
			existing.Quantity += l.Quantity
			byID[l.ProductID] = existing
			continue
		}
		byID[l.ProductID] = l
	}

	merged := make([]domain.CartLine, 0, len(byID))
	for _, l := range byID {
		merged = append(merged, l)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}

func productIDs(lines []domain.CartLine) []int64 {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}

func checkStock(lines []domain.CartLine, products map[int64]domain.Product) error {
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.Available(l.Quantity) {
			return &InsufficientStockError{ProductID: l.ProductID}
		}
	}
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, port.ErrLockConflict) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
