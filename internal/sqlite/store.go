package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/shop-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct{ DB *sql.DB }

func New(db *sql.DB) *Store { return &Store{DB: db} }

var _ orders.Store = (*Store)(nil)

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &txStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) FindOrder(ctx context.Context, id string) (*orders.Order, error) {
	return findOrder(ctx, s.DB, id)
}

func (s *Store) ListOrders(ctx context.Context, f orders.ListFilter) ([]orders.Order, int, error) {
	status := string(f.Status)

	var total int
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE (? = '' OR status = ?)`, status, status,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, status, status, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := attachDetails(ctx, s.DB, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// FindProduct loads a product regardless of its active flag.
func (s *Store) FindProduct(ctx context.Context, id string) (*orders.Product, error) {
	p, err := scanProduct(s.DB.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// InsertProduct seeds a product. Empty ID and zero timestamps are filled in.
func (s *Store) InsertProduct(ctx context.Context, p *orders.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	stampNow(&p.CreatedAt, &p.UpdatedAt)
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO products (id, name, description, price, stock, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, nullString(p.Description), p.Price.String(), p.Stock, p.Active,
		unixNano(p.CreatedAt), unixNano(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// InsertUser seeds a user. Empty ID, role and zero timestamps are filled in.
func (s *Store) InsertUser(ctx context.Context, u *orders.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = orders.RoleUser
	}
	stampNow(&u.CreatedAt, &u.UpdatedAt)
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, refresh_token_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.RefreshTokenHash, string(u.Role),
		unixNano(u.CreatedAt), unixNano(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

type txStore struct{ q queryer }

func (t *txStore) FindUsersByIDs(ctx context.Context, ids []string) ([]orders.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders(len(ids))+`)`, anySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer rows.Close()

	var out []orders.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (t *txStore) FindActiveProduct(ctx context.Context, id string) (*orders.Product, error) {
	p, err := scanProduct(t.q.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ? AND active = 1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find product %s: %w", id, err)
	}
	return p, nil
}

// FindOrder ignores forUpdate: the single connection already serializes transactions.
func (t *txStore) FindOrder(ctx context.Context, id string, _ bool) (*orders.Order, error) {
	return findOrder(ctx, t.q, id)
}

func (t *txStore) FindOrderIDByIdempotencyKey(ctx context.Context, key string) (string, error) {
	var id string
	err := t.q.QueryRowContext(ctx, `SELECT id FROM orders WHERE idempotency_key = ?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find order by idempotency key: %w", err)
	}
	return id, nil
}

func (t *txStore) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, customer_name, customer_email, total_amount, status,
		                    notes, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CustomerID, o.CustomerName, o.CustomerEmail, o.TotalAmount.String(), string(o.Status),
		nullString(o.Notes), nullString(o.IdempotencyKey), unixNano(o.CreatedAt), unixNano(o.UpdatedAt))
	if isIdempotencyViolation(err) {
		return orders.ErrIdempotencyConflict
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, position, unit_price, quantity, total_price)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			it.ID, o.ID, it.ProductID, i, it.UnitPrice.String(), it.Quantity, it.TotalPrice.String(),
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for i, u := range o.Participants {
		if _, err := t.q.ExecContext(ctx,
			`INSERT INTO order_participants (order_id, user_id, position) VALUES (?, ?, ?)`,
			o.ID, u.ID, i,
		); err != nil {
			return fmt.Errorf("insert order participant: %w", err)
		}
	}
	return nil
}

func (t *txStore) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE products SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?`,
		qty, unixNano(time.Now()), productID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement stock %s: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *txStore) UpdateOrderStatus(ctx context.Context, id string, from, to orders.Status, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), unixNano(at), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const (
	orderColumns = `id, customer_id, customer_name, customer_email, total_amount, status,
		COALESCE(notes, ''), COALESCE(idempotency_key, ''), created_at, updated_at`
	productColumns = `id, name, COALESCE(description, ''), price, stock, active, created_at, updated_at`
	userColumns    = `id, name, email, password_hash, refresh_token_hash, role, created_at, updated_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func findOrder(ctx context.Context, q queryer, id string) (*orders.Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", id, err)
	}
	list := []orders.Order{*o}
	if err := attachDetails(ctx, q, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// attachDetails loads items and participants for a batch of orders in two queries.
func attachDetails(ctx context.Context, q queryer, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	in := placeholders(len(ids))

	rows, err := q.QueryContext(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.unit_price, oi.quantity, oi.total_price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id IN (`+in+`)
		ORDER BY oi.order_id, oi.position`, anySlice(ids)...)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	items := map[string][]orders.OrderItem{}
	for rows.Next() {
		var (
			it          orders.OrderItem
			unit, total string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &unit, &it.Quantity, &total); err != nil {
			rows.Close()
			return err
		}
		if it.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			rows.Close()
			return fmt.Errorf("parse unit price: %w", err)
		}
		if it.TotalPrice, err = decimal.NewFromString(total); err != nil {
			rows.Close()
			return fmt.Errorf("parse total price: %w", err)
		}
		items[it.OrderID] = append(items[it.OrderID], it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx, `
		SELECT op.order_id, u.id, u.name, u.email, u.password_hash, u.refresh_token_hash, u.role, u.created_at, u.updated_at
		FROM order_participants op
		JOIN users u ON u.id = op.user_id
		WHERE op.order_id IN (`+in+`)
		ORDER BY op.order_id, op.position`, anySlice(ids)...)
	if err != nil {
		return fmt.Errorf("load order participants: %w", err)
	}
	defer rows.Close()
	users := map[string][]orders.User{}
	for rows.Next() {
		var (
			orderID          string
			u                orders.User
			refresh          sql.NullString
			role             string
			created, updated int64
		)
		if err := rows.Scan(&orderID, &u.ID, &u.Name, &u.Email, &u.PasswordHash, &refresh, &role, &created, &updated); err != nil {
			return err
		}
		if refresh.Valid {
			u.RefreshTokenHash = &refresh.String
		}
		u.Role = orders.Role(role)
		u.CreatedAt, u.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
		users[orderID] = append(users[orderID], u)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range list {
		list[i].Items = items[list[i].ID]
		list[i].Participants = users[list[i].ID]
	}
	return nil
}

func scanOrder(r rowScanner) (*orders.Order, error) {
	var (
		o                orders.Order
		total, status    string
		created, updated int64
	)
	if err := r.Scan(&o.ID, &o.CustomerID, &o.CustomerName, &o.CustomerEmail, &total, &status,
		&o.Notes, &o.IdempotencyKey, &created, &updated); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse total amount: %w", err)
	}
	o.TotalAmount = amount
	o.Status = orders.Status(status)
	o.CreatedAt, o.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &o, nil
}

func scanProduct(r rowScanner) (*orders.Product, error) {
	var (
		p                orders.Product
		price            string
		created, updated int64
	)
	if err := r.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock, &p.Active, &created, &updated); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	p.Price = d
	p.CreatedAt, p.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &p, nil
}

func scanUser(r rowScanner) (*orders.User, error) {
	var (
		u                orders.User
		refresh          sql.NullString
		role             string
		created, updated int64
	)
	if err := r.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &refresh, &role, &created, &updated); err != nil {
		return nil, err
	}
	if refresh.Valid {
		u.RefreshTokenHash = &refresh.String
	}
	u.Role = orders.Role(role)
	u.CreatedAt, u.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &u, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Timestamps are stored as UTC unix nanoseconds.
func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func stampNow(created, updated *time.Time) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = *created
	}
}

func isIdempotencyViolation(err error) bool {
	var se *msqlite.Error
	return errors.As(err, &se) &&
		se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
		strings.Contains(se.Error(), "UNIQUE constraint failed: orders.idempotency_key")
}
