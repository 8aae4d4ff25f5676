package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type OrderNotifier interface {
	OrderPlaced(ctx context.Context, order domain.Order) error
}
