package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type OrderService struct {
	orders port.OrderRepository
	logger *zap.Logger
}

func NewOrderService(orders port.OrderRepository, logger *zap.Logger) *OrderService {
	return &OrderService{orders: orders, logger: logger}
}

// GetOrder returns an order visible to the principal: its owner, or anyone
// allowed to manage orders.
func (s *OrderService) GetOrder(ctx context.Context, p domain.Principal, orderID string) (*domain.Order, error) {
	if err := domain.Authorize(p, domain.CapViewOrders); err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != p.UserID && !p.Capabilities().Has(domain.CapManageOrders) {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, p domain.Principal) ([]domain.Order, error) {
	if err := domain.Authorize(p, domain.CapViewOrders); err != nil {
		return nil, err
	}

	orders, err := s.orders.ListOrders(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// DeleteOrder flags the order as deleted; rows are never removed.
func (s *OrderService) DeleteOrder(ctx context.Context, p domain.Principal, orderID string) error {
	if err := domain.Authorize(p, domain.CapManageOrders); err != nil {
		return err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return ErrOrderNotFound
	}

	if err := s.orders.SoftDeleteOrder(ctx, orderID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	s.logger.Info("order soft-deleted", zap.String("order_id", orderID), zap.Int64("by_user", p.UserID))
	return nil
}
