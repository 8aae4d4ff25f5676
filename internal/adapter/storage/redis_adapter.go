package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	cartKeyPrefix        = "cart:"
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
	idempotencyPending   = "pending"
)

// releaseIdempotencyScript deletes the key only while it still holds the
// pending marker, so a completed result is never dropped.
var releaseIdempotencyScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisAdapter struct {
	client  *redis.Client
	cartTTL time.Duration
}

// NewRedisAdapter stores carts with cartTTL; zero keeps them until checkout.
func NewRedisAdapter(client *redis.Client, cartTTL time.Duration) *RedisAdapter {
	return &RedisAdapter{client: client, cartTTL: cartTTL}
}

func cartKey(userID int64) string {
	return cartKeyPrefix + strconv.FormatInt(userID, 10)
}

func (r *RedisAdapter) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.NewCart(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	cart.UserID = userID
	if cart.Items == nil {
		cart.Items = make(map[int64]domain.CartLine)
	}
	return &cart, nil
}

func (r *RedisAdapter) SaveCart(ctx context.Context, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	return r.client.Set(ctx, cartKey(cart.UserID), data, r.cartTTL).Err()
}

func (r *RedisAdapter) DeleteCart(ctx context.Context, userID int64) error {
	return r.client.Del(ctx, cartKey(userID)).Err()
}

func (r *RedisAdapter) ClaimIdempotency(ctx context.Context, key string) (bool, string, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, idempotencyPending, idempotencyKeyTTL).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}

	stored, err := r.client.Get(ctx, idempotencyKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if stored == idempotencyPending {
		stored = ""
	}
	return false, stored, nil
}

func (r *RedisAdapter) CompleteIdempotency(ctx context.Context, key, result string) error {
	return r.client.Set(ctx, idempotencyKeyPrefix+key, result, idempotencyKeyTTL).Err()
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return releaseIdempotencyScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}, idempotencyPending).Err()
}
