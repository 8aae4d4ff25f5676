package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type MySQLAdapter struct {
	db        *sql.DB
	txTimeout time.Duration
}

// NewMySQLAdapter wraps db. A positive txTimeout bounds every checkout
// transaction, lock waits included.
func NewMySQLAdapter(db *sql.DB, txTimeout time.Duration) *MySQLAdapter {
	return &MySQLAdapter{db: db, txTimeout: txTimeout}
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.CheckoutTx) error) error {
	if m.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.txTimeout)
		defer cancel()
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", txError(ctx, err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return txError(ctx, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", txError(ctx, err))
	}
	return nil
}

// txError attaches the context error once the transaction deadline has passed
// or the caller went away. database/sql rolls the tx back at that point, so
// later statements fail with ErrTxDone rather than a lock error.
func txError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return mapLockError(err)
}

const productColumns = `id, name, price, stock, is_deleted, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Deleted, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE id = ? AND is_deleted = 0`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return queryProducts(ctx, m.db, ids, "")
}

func (m *MySQLAdapter) ListProducts(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE is_deleted = 0
		ORDER BY id LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (m *MySQLAdapter) SaveProduct(ctx context.Context, p *domain.Product) error {
	now := time.Now()
	if p.ID == 0 {
		result, err := m.db.ExecContext(ctx, `
			INSERT INTO products (name, price, stock, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			p.Name, p.Price, p.Stock, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert product id: %w", err)
		}
		p.ID, p.CreatedAt, p.UpdatedAt = id, now, now
		return nil
	}

	_, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET name = ?, price = ?, stock = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		p.Name, p.Price, p.Stock, now, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	p.UpdatedAt = now
	return nil
}

func (m *MySQLAdapter) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var (
		u    domain.User
		role string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, username, email, phone, bonus, role, is_staff
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.Bonus, &role, &u.IsStaff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Role = domain.ParseRole(role)
	return &u, nil
}

// GetContactInfo returns empty contact fields for an unknown user.
func (m *MySQLAdapter) GetContactInfo(ctx context.Context, id int64) (domain.ContactInfo, error) {
	var c domain.ContactInfo
	err := m.db.QueryRowContext(ctx, `SELECT email, phone FROM users WHERE id = ?`, id).Scan(&c.Email, &c.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ContactInfo{}, nil
	}
	if err != nil {
		return domain.ContactInfo{}, fmt.Errorf("query contact info: %w", err)
	}
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	return c, nil
}

func (m *MySQLAdapter) GetBalance(ctx context.Context, id int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := m.db.QueryRowContext(ctx, `SELECT bonus FROM users WHERE id = ?`, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

const orderColumns = `id, user_id, address, total, bonus_used, bonus_earned, is_deleted, created_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Address, &o.Total, &o.BonusUsed, &o.BonusEarned, &o.Deleted, &o.CreatedAt)
	return o, err
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(m.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE id = ? AND is_deleted = 0`, orderID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	lines, err := m.orderLines(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Lines = lines[o.ID]
	return &o, nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE user_id = ? AND is_deleted = 0
		ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []domain.Order
		ids    []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	lines, err := m.orderLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

func (m *MySQLAdapter) orderLines(ctx context.Context, orderIDs []string) (map[string][]domain.OrderLine, error) {
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, price_at_purchase
		FROM order_lines WHERE order_id IN (`+placeholders(len(orderIDs))+`)
		ORDER BY order_id, product_id`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	lines := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			l       domain.OrderLine
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.Quantity, &l.PriceAtPurchase); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines[orderID] = append(lines[orderID], l)
	}
	return lines, rows.Err()
}

func (m *MySQLAdapter) SoftDeleteOrder(ctx context.Context, orderID string) error {
	_, err := m.db.ExecContext(ctx, `UPDATE orders SET is_deleted = 1 WHERE id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("soft delete order: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) LockBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `SELECT bonus FROM users WHERE id = ? FOR UPDATE`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("user %d not found", userID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock user: %w", mapLockError(err))
	}
	return balance, nil
}

func (t *mysqlTx) LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return queryProducts(ctx, t.tx, ids, "FOR UPDATE")
}

func (t *mysqlTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, updated_at = NOW()
		WHERE id = ? AND stock >= ? AND is_deleted = 0`,
		quantity, productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", mapLockError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrOutOfStock
	}
	return nil
}

func (t *mysqlTx) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE users SET bonus = ? WHERE id = ?`, balance, userID)
	if err != nil {
		return fmt.Errorf("update balance: %w", mapLockError(err))
	}
	return nil
}

func (t *mysqlTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, address, total, bonus_used, bonus_earned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.Address, order.Total, order.BonusUsed, order.BonusEarned, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", mapLockError(err))
	}

	for _, l := range order.Lines {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, price_at_purchase)
			VALUES (?, ?, ?, ?)`,
			order.ID, l.ProductID, l.Quantity, l.PriceAtPurchase,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", mapLockError(err))
		}
	}
	return nil
}

// queryProducts loads the live products among ids in ascending id order.
// With suffix "FOR UPDATE" the rows are locked in that same order.
func queryProducts(ctx context.Context, q querier, ids []int64, suffix string) (map[int64]domain.Product, error) {
	ids = sortedUnique(ids)
	if len(ids) == 0 {
		return map[int64]domain.Product{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY id `+suffix, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", mapLockError(err))
	}
	defer rows.Close()

	products := make(map[int64]domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if !p.Deleted {
			products[p.ID] = p
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", mapLockError(err))
	}
	return products, nil
}

func sortedUnique(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// mapLockError turns MySQL lock wait timeouts and deadlocks into port.ErrLockConflict.
func mapLockError(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && (mysqlErr.Number == errLockWaitTimeout || mysqlErr.Number == errDeadlock) {
		return fmt.Errorf("%w: %v", port.ErrLockConflict, err)
	}
	return err
}
