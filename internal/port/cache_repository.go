package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type CartStore interface {
	// GetCart returns an empty cart when none is stored
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart *domain.Cart) error
	DeleteCart(ctx context.Context, userID int64) error
}

type IdempotencyStore interface {
	// ClaimIdempotency sets a pending marker for key, returns false and the stored
	// value if the key is already taken
	ClaimIdempotency(ctx context.Context, key string) (bool, string, error)

	// CompleteIdempotency replaces the pending marker with the result
	CompleteIdempotency(ctx context.Context, key, result string) error

	// ReleaseIdempotency removes a claim that is still pending so the request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}
