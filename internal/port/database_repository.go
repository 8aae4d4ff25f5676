package port

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

// ErrLockConflict is returned by storage when a row lock could not be taken
// (lock wait timeout, deadlock victim). The whole unit of work may be retried.
var ErrLockConflict = errors.New("row lock conflict")

// ErrOutOfStock is returned by a conditional stock decrement that matched no row.
var ErrOutOfStock = errors.New("not enough stock")

type ProductRepository interface {
	// GetProduct returns nil when the product does not exist or is deleted
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	// GetProducts returns the live products among ids, keyed by id
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)

	ListProducts(ctx context.Context, limit, offset int) ([]domain.Product, error)

	// SaveProduct inserts when product.ID is zero, updates otherwise
	SaveProduct(ctx context.Context, product *domain.Product) error
}

type UserRepository interface {
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	GetContactInfo(ctx context.Context, userID int64) (domain.ContactInfo, error)

	// GetBalance reads the bonus balance without locking
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

type OrderRepository interface {
	// GetOrder returns nil for unknown or soft-deleted orders
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]domain.Order, error)
	SoftDeleteOrder(ctx context.Context, orderID string) error
}

// CheckoutTx is the set of row-locking operations available inside one checkout transaction.
type CheckoutTx interface {
	// LockBalance takes an exclusive lock on the user's row and returns the current balance
	LockBalance(ctx context.Context, userID int64) (decimal.Decimal, error)

	// LockProducts locks the live product rows in ascending id order
	LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)

	// DecrementStock returns ErrOutOfStock when fewer than quantity units remain
	DecrementStock(ctx context.Context, productID int64, quantity int) error

	SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error

	// CreateOrder persists the order and its lines
	CreateOrder(ctx context.Context, order *domain.Order) error
}

// UnitOfWork runs fn in a single transaction; fn returning an error rolls everything back.
// fn must issue its statements on the ctx it receives, which carries the transaction deadline.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx CheckoutTx) error) error
}
