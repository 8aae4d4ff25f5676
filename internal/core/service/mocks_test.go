package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// memStore is an in-memory stand-in for the SQL adapter. Transactions are
// serialised by txMu, which plays the role of the row locks.
type memStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	products map[int64]domain.Product
	users    map[int64]domain.User
	orders   map[string]domain.Order
	locks    []string

	// failStep makes the named tx step fail with failErr
	failStep string
	failErr  error
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[int64]domain.Product),
		users:    make(map[int64]domain.User),
		orders:   make(map[string]domain.Order),
	}
}

func (m *memStore) addProduct(id int64, price string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = domain.Product{ID: id, Name: fmt.Sprintf("good-%d", id), Price: decimal.RequireFromString(price), Stock: stock}
}

func (m *memStore) addUser(id int64, bonus string, email, phone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = domain.User{
		ID:    id,
		Email: email,
		Phone: phone,
		Bonus: decimal.RequireFromString(bonus),
		Role:  domain.RoleCustomer,
	}
}

func (m *memStore) stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) balance(id int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].Bonus
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok || p.Deleted {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok && !p.Deleted {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memStore) ListProducts(_ context.Context, limit, offset int) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.products {
		if !p.Deleted {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SaveProduct(_ context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = int64(len(m.products) + 1)
	}
	m.products[p.ID] = *p
	return nil
}

func (m *memStore) GetUser(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *memStore) GetContactInfo(_ context.Context, id int64) (domain.ContactInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	return domain.ContactInfo{Email: u.Email, Phone: u.Phone}, nil
}

func (m *memStore) GetBalance(_ context.Context, id int64) (decimal.Decimal, error) {
	return m.balance(id), nil
}

func (m *memStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Deleted {
		return nil, nil
	}
	return &o, nil
}

func (m *memStore) ListOrders(_ context.Context, userID int64) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.UserID == userID && !o.Deleted {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) SoftDeleteOrder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	o.Deleted = true
	m.orders[id] = o
	return nil
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.CheckoutTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	products := make(map[int64]domain.Product, len(m.products))
	for k, v := range m.products {
		products[k] = v
	}
	users := make(map[int64]domain.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	orders := make(map[string]domain.Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.mu.Lock()
		m.products, m.users, m.orders = products, users, orders
		m.mu.Unlock()
		return err
	}
	return nil
}

type memTx struct {
	m *memStore
}

func (t *memTx) fail(step string) error {
	if t.m.failStep == step {
		return t.m.failErr
	}
	return nil
}

func (t *memTx) LockBalance(_ context.Context, userID int64) (decimal.Decimal, error) {
	if err := t.fail("lock_balance"); err != nil {
		return decimal.Zero, err
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.locks = append(t.m.locks, fmt.Sprintf("user:%d", userID))
	return t.m.users[userID].Bonus, nil
}

func (t *memTx) LockProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	if err := t.fail("lock_products"); err != nil {
		return nil, err
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make(map[int64]domain.Product, len(ids))
	for _, id := range sorted {
		t.m.locks = append(t.m.locks, fmt.Sprintf("product:%d", id))
		if p, ok := t.m.products[id]; ok && !p.Deleted {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID int64, quantity int) error {
	if err := t.fail("decrement_stock"); err != nil {
		return err
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	p := t.m.products[productID]
	if p.Stock < quantity {
		return port.ErrOutOfStock
	}
	p.Stock -= quantity
	t.m.products[productID] = p
	return nil
}

func (t *memTx) SetBalance(_ context.Context, userID int64, balance decimal.Decimal) error {
	if err := t.fail("set_balance"); err != nil {
		return err
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	u := t.m.users[userID]
	u.Bonus = balance
	t.m.users[userID] = u
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, order *domain.Order) error {
	if err := t.fail("create_order"); err != nil {
		return err
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.orders[order.ID] = *order
	return nil
}

// mockCartStore keeps carts in memory
type mockCartStore struct {
	mu        sync.Mutex
	carts     map[int64]*domain.Cart
	deleteErr error
}

func newMockCartStore() *mockCartStore {
	return &mockCartStore{carts: make(map[int64]*domain.Cart)}
}

func (c *mockCartStore) GetCart(_ context.Context, userID int64) (*domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[userID]
	if !ok {
		return domain.NewCart(userID), nil
	}
	cp := domain.NewCart(userID)
	for k, v := range cart.Items {
		cp.Items[k] = v
	}
	return cp, nil
}

func (c *mockCartStore) SaveCart(_ context.Context, cart *domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[cart.UserID] = cart
	return nil
}

func (c *mockCartStore) DeleteCart(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	delete(c.carts, userID)
	return nil
}

func (c *mockCartStore) has(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.carts[userID]
	return ok
}

type mockNotifier struct {
	mu     sync.Mutex
	orders []domain.Order
	err    error
}

func (n *mockNotifier) OrderPlaced(_ context.Context, order domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order)
	return n.err
}
