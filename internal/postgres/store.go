package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/shop-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct{ DB *pgxpool.Pool }

var _ orders.Store = (*Store)(nil)

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) FindOrder(ctx context.Context, id string) (*orders.Order, error) {
	return findOrder(ctx, s.DB, id, false)
}

func (s *Store) ListOrders(ctx context.Context, f orders.ListFilter) ([]orders.Order, int, error) {
	status := string(f.Status)

	var total int
	if err := s.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE ($1 = '' OR status = $1)`, status,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := s.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, status, f.Limit, f.Offset)
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
	rows.Close()

	if err := attachDetails(ctx, s.DB, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE active ORDER BY name`)
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
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// InsertProduct seeds a product. An empty ID is generated.
func (s *Store) InsertProduct(ctx context.Context, p *orders.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := s.DB.QueryRow(ctx, `
		INSERT INTO products (id, name, description, price, stock, active)
		VALUES ($1, $2, NULLIF($3, ''), $4::numeric, $5, $6)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.Price.String(), p.Stock, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// InsertUser seeds a user. An empty ID is generated and an empty role defaults to USER.
func (s *Store) InsertUser(ctx context.Context, u *orders.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = orders.RoleUser
	}
	err := s.DB.QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, refresh_token_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.RefreshTokenHash, string(u.Role),
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

type txStore struct{ q querier }

func (t *txStore) FindUsersByIDs(ctx context.Context, ids []string) ([]orders.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.q.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
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
	p, err := scanProduct(t.q.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND active`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find product %s: %w", id, err)
	}
	return p, nil
}

// FindOrder with forUpdate holds the order row lock until the transaction ends, so two
// transitions on the same order run one after the other.
func (t *txStore) FindOrder(ctx context.Context, id string, forUpdate bool) (*orders.Order, error) {
	return findOrder(ctx, t.q, id, forUpdate)
}

func (t *txStore) FindOrderIDByIdempotencyKey(ctx context.Context, key string) (string, error) {
	var id string
	err := t.q.QueryRow(ctx, `SELECT id FROM orders WHERE idempotency_key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find order by idempotency key: %w", err)
	}
	return id, nil
}

func (t *txStore) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO orders (id, customer_id, customer_name, customer_email, total_amount, status,
		                    notes, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
		o.ID, o.CustomerID, o.CustomerName, o.CustomerEmail, o.TotalAmount.String(), string(o.Status),
		o.Notes, o.IdempotencyKey, o.CreatedAt, o.UpdatedAt)
	if isIdempotencyViolation(err) {
		return orders.ErrIdempotencyConflict
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		if _, err := t.q.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, position, unit_price, quantity, total_price)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric)`,
			it.ID, o.ID, it.ProductID, i, it.UnitPrice.String(), it.Quantity, it.TotalPrice.String(),
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for i, u := range o.Participants {
		if _, err := t.q.Exec(ctx,
			`INSERT INTO order_participants (order_id, user_id, position) VALUES ($1, $2, $3)`,
			o.ID, u.ID, i,
		); err != nil {
			return fmt.Errorf("insert order participant: %w", err)
		}
	}
	return nil
}

// DecrementStock never lets stock go negative: the guard and the write are one statement.
func (t *txStore) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	ct, err := t.q.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement stock %s: %w", productID, err)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *txStore) UpdateOrderStatus(ctx context.Context, id string, from, to orders.Status, at time.Time) (bool, error) {
	ct, err := t.q.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		id, string(to), at, string(from))
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

const (
	orderColumns = `id, customer_id, customer_name, customer_email, total_amount::text, status,
		COALESCE(notes, ''), COALESCE(idempotency_key, ''), created_at, updated_at`
	productColumns = `id, name, COALESCE(description, ''), price::text, stock, active, created_at, updated_at`
	userColumns    = `id, name, email, password_hash, refresh_token_hash, role, created_at, updated_at`
)

func findOrder(ctx context.Context, q querier, id string, forUpdate bool) (*orders.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
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
func attachDetails(ctx context.Context, q querier, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}

	rows, err := q.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.unit_price::text, oi.quantity, oi.total_price::text
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.position`, ids)
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

	rows, err = q.Query(ctx, `
		SELECT op.order_id, u.id, u.name, u.email, u.password_hash, u.refresh_token_hash, u.role, u.created_at, u.updated_at
		FROM order_participants op
		JOIN users u ON u.id = op.user_id
		WHERE op.order_id = ANY($1)
		ORDER BY op.order_id, op.position`, ids)
	if err != nil {
		return fmt.Errorf("load order participants: %w", err)
	}
	defer rows.Close()
	users := map[string][]orders.User{}
	for rows.Next() {
		var (
			orderID string
			u       orders.User
			role    string
		)
		if err := rows.Scan(&orderID, &u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.RefreshTokenHash, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return err
		}
		u.Role = orders.Role(role)
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

func scanOrder(r pgx.Row) (*orders.Order, error) {
	var (
		o             orders.Order
		total, status string
	)
	if err := r.Scan(&o.ID, &o.CustomerID, &o.CustomerName, &o.CustomerEmail, &total, &status,
		&o.Notes, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse total amount: %w", err)
	}
	o.TotalAmount = amount
	o.Status = orders.Status(status)
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return &o, nil
}

func scanProduct(r pgx.Row) (*orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := r.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	p.Price = d
	return &p, nil
}

func scanUser(r pgx.Row) (*orders.User, error) {
	var (
		u    orders.User
		role string
	)
	if err := r.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.RefreshTokenHash, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = orders.Role(role)
	return &u, nil
}

const (
	uniqueViolation = "23505"
	// Default name Postgres gives the UNIQUE constraint on orders.idempotency_key.
	idempotencyConstraint = "orders_idempotency_key_key"
)

func isIdempotencyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == uniqueViolation &&
		pgErr.ConstraintName == idempotencyConstraint
}
