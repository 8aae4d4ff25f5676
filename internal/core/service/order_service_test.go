package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

func seedOrders(store *memStore) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.orders["o-1"] = domain.Order{ID: "o-1", UserID: 1, Total: d("10.00")}
	store.orders["o-2"] = domain.Order{ID: "o-2", UserID: 2, Total: d("20.00")}
	store.orders["o-3"] = domain.Order{ID: "o-3", UserID: 1, Deleted: true}
}

func TestOrderService_GetOrder(t *testing.T) {
	store := newMemStore()
	seedOrders(store)
	svc := NewOrderService(store, zap.NewNop())
	ctx := context.Background()

	customer := domain.Principal{UserID: 1, Role: domain.RoleCustomer}
	admin := domain.Principal{UserID: 9, Role: domain.RoleAdmin}
	staff := domain.Principal{UserID: 10, IsStaff: true}

	order, err := svc.GetOrder(ctx, customer, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "o-1", order.ID)

	_, err = svc.GetOrder(ctx, customer, "o-2")
	assert.ErrorIs(t, err, ErrOrderNotFound, "other users' orders stay hidden")

	_, err = svc.GetOrder(ctx, customer, "o-3")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = svc.GetOrder(ctx, admin, "o-2")
	assert.NoError(t, err)
	_, err = svc.GetOrder(ctx, staff, "o-2")
	assert.NoError(t, err)

	_, err = svc.GetOrder(ctx, domain.Principal{}, "o-1")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestOrderService_ListOrders(t *testing.T) {
	store := newMemStore()
	seedOrders(store)
	svc := NewOrderService(store, zap.NewNop())

	orders, err := svc.ListOrders(context.Background(), domain.Principal{UserID: 1, Role: domain.RoleCustomer})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o-1", orders[0].ID)
}

func TestOrderService_DeleteOrder(t *testing.T) {
	store := newMemStore()
	seedOrders(store)
	svc := NewOrderService(store, zap.NewNop())
	ctx := context.Background()

	err := svc.DeleteOrder(ctx, domain.Principal{UserID: 1, Role: domain.RoleCustomer}, "o-1")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	admin := domain.Principal{UserID: 9, Role: domain.RoleAdmin}
	require.NoError(t, svc.DeleteOrder(ctx, admin, "o-1"))

	store.mu.Lock()
	deleted := store.orders["o-1"]
	store.mu.Unlock()
	assert.True(t, deleted.Deleted, "row is kept and flagged")

	_, err = svc.GetOrder(ctx, admin, "o-1")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	assert.ErrorIs(t, svc.DeleteOrder(ctx, admin, "missing"), ErrOrderNotFound)
}
