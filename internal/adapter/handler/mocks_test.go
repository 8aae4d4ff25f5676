package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

// fakeStore is a mutex-guarded stand-in for the MySQL adapter.
type fakeStore struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	users    map[int64]domain.User
	orders   map[string]domain.Order
	lockErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: make(map[int64]domain.Product),
		users:    make(map[int64]domain.User),
		orders:   make(map[string]domain.Order),
	}
}

func (f *fakeStore) addProduct(id int64, price string, stock int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[id] = domain.Product{ID: id, Name: "good", Price: decimal.RequireFromString(price), Stock: stock}
}

func (f *fakeStore) addUser(id int64, bonus, email, phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = domain.User{ID: id, Email: email, Phone: phone, Bonus: decimal.RequireFromString(bonus)}
}

func (f *fakeStore) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]domain.Product)
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeStore) ListProducts(_ context.Context, limit, offset int) ([]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Product
	for _, p := range f.products {
		out = append(out, p)
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

func (f *fakeStore) SaveProduct(_ context.Context, p *domain.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == 0 {
		p.ID = int64(len(f.products) + 100)
	}
	f.products[p.ID] = *p
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeStore) GetContactInfo(_ context.Context, id int64) (domain.ContactInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	return domain.ContactInfo{Email: u.Email, Phone: u.Phone}, nil
}

func (f *fakeStore) GetBalance(_ context.Context, id int64) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id].Bonus, nil
}

func (f *fakeStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Deleted {
		return nil, nil
	}
	return &o, nil
}

func (f *fakeStore) ListOrders(_ context.Context, userID int64) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if o.UserID == userID && !o.Deleted {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) SoftDeleteOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	o.Deleted = true
	f.orders[id] = o
	return nil
}

// WithinTx holds the store lock for the whole transaction; writes are
// applied directly since the tests never fail midway through one.
func (f *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.CheckoutTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return f.lockErr
	}
	return fn(ctx, fakeTx{f})
}

type fakeTx struct {
	f *fakeStore
}

func (t fakeTx) LockBalance(_ context.Context, userID int64) (decimal.Decimal, error) {
	return t.f.users[userID].Bonus, nil
}

func (t fakeTx) LockProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product)
	for _, id := range ids {
		if p, ok := t.f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t fakeTx) DecrementStock(_ context.Context, productID int64, quantity int) error {
	p := t.f.products[productID]
	if p.Stock < quantity {
		return port.ErrOutOfStock
	}
	p.Stock -= quantity
	t.f.products[productID] = p
	return nil
}

func (t fakeTx) SetBalance(_ context.Context, userID int64, balance decimal.Decimal) error {
	u := t.f.users[userID]
	u.Bonus = balance
	t.f.users[userID] = u
	return nil
}

func (t fakeTx) CreateOrder(_ context.Context, order *domain.Order) error {
	t.f.orders[order.ID] = *order
	return nil
}

type testApp struct {
	store   *fakeStore
	redis   *storage.RedisAdapter
	auth    *Authenticator
	handler *HTTPHandler
	grpc    *GRPCHandler
	router  http.Handler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zap.NewNop()
	store := newFakeStore()
	cache := storage.NewRedisAdapter(client, time.Hour)

	checkout := service.NewCheckoutService(store, store, store, cache, nil, logger)
	carts := service.NewCartService(cache, store, logger)
	orders := service.NewOrderService(store, logger)
	catalog := service.NewCatalogService(store, logger)
	users := service.NewUserService(store, logger)

	auth := NewAuthenticator("test-secret", time.Hour)
	h := NewHTTPHandler(checkout, carts, orders, catalog, users, cache, logger)
	return &testApp{
		store:   store,
		redis:   cache,
		auth:    auth,
		handler: h,
		grpc:    NewGRPCHandler(checkout, logger),
		router:  h.Routes(auth, 0),
	}
}

func (a *testApp) token(t *testing.T, userID int64, role domain.Role) string {
	t.Helper()
	token, err := a.auth.Issue(domain.Principal{UserID: userID, Role: role})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (a *testApp) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}
