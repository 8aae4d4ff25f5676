package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const maxPageSize = 100

type CatalogService struct {
	products port.ProductRepository
	logger   *zap.Logger
}

func NewCatalogService(products port.ProductRepository, logger *zap.Logger) *CatalogService {
	return &CatalogService{products: products, logger: logger}
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

func (s *CatalogService) ListProducts(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	offset = max(offset, 0)

	products, err := s.products.ListProducts(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// SaveProduct creates or updates a catalog entry. Price and stock are rounded
// and validated before anything is written.
func (s *CatalogService) SaveProduct(ctx context.Context, p domain.Principal, product *domain.Product) error {
	if err := domain.Authorize(p, domain.CapManageCatalog); err != nil {
		return err
	}
	if err := product.Validate(); err != nil {
		return err
	}
	product.Price = domain.Money(product.Price)

	if product.ID != 0 {
		existing, err := s.products.GetProduct(ctx, product.ID)
		if err != nil {
			return fmt.Errorf("get product: %w", err)
		}
		if existing == nil {
			return ErrProductNotFound
		}
	}

	if err := s.products.SaveProduct(ctx, product); err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	s.logger.Info("product saved",
		zap.Int64("product_id", product.ID),
		zap.Int("stock", product.Stock),
		zap.Int64("by_user", p.UserID),
	)
	return nil
}
