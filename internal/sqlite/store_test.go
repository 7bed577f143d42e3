package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/shop-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenMigrated(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func seedProduct(t *testing.T, s *Store, name, price string, stock int, active bool) *orders.Product {
	t.Helper()
	p := &orders.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock, Active: active}
	require.NoError(t, s.InsertProduct(context.Background(), p))
	return p
}

func seedUser(t *testing.T, s *Store, name, email string) *orders.User {
	t.Helper()
	u := &orders.User{Name: name, Email: email, PasswordHash: "x"}
	require.NoError(t, s.InsertUser(context.Background(), u))
	return u
}

func newOrder(p *orders.Product, qty int, users ...orders.User) *orders.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	unit := p.Price
	line := unit.Mul(decimal.NewFromInt(int64(qty)))
	id := uuid.NewString()
	return &orders.Order{
		ID:            id,
		CustomerID:    users[0].ID,
		CustomerName:  "Walk-in",
		CustomerEmail: users[0].Email,
		TotalAmount:   line,
		Status:        orders.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Items: []orders.OrderItem{{
			ID: uuid.NewString(), OrderID: id, ProductID: p.ID, ProductName: p.Name,
			UnitPrice: unit, Quantity: qty, TotalPrice: line,
		}},
		Participants: users,
	}
}

func insertOrder(t *testing.T, s *Store, o *orders.Order) {
	t.Helper()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.InsertOrder(ctx, o)
	})
	require.NoError(t, err)
}

func TestOpenMigrated(t *testing.T) {
	s := setupTestStore(t)

	for _, table := range []string{"users", "products", "orders", "order_items", "order_participants"} {
		var n int
		err := s.DB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestInsertOrder_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := seedProduct(t, s, "Coffee", "10.50", 5, true)
	bob := seedUser(t, s, "Bob", "bob@example.com")
	amy := seedUser(t, s, "Amy", "amy@example.com")

	o := newOrder(p, 2, *bob, *amy)
	o.Notes = "ring twice"
	o.IdempotencyKey = "key-1"
	insertOrder(t, s, o)

	got, err := s.FindOrder(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, o.CustomerID, got.CustomerID)
	assert.Equal(t, "bob@example.com", got.CustomerEmail)
	assert.True(t, decimal.RequireFromString("21").Equal(got.TotalAmount))
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, "ring twice", got.Notes)
	assert.Equal(t, "key-1", got.IdempotencyKey)
	assert.True(t, o.CreatedAt.Equal(got.CreatedAt))

	require.Len(t, got.Items, 1)
	assert.Equal(t, "Coffee", got.Items[0].ProductName)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("10.50").Equal(got.Items[0].UnitPrice))

	require.Len(t, got.Participants, 2)
	assert.Equal(t, bob.ID, got.Participants[0].ID, "participants keep input order")
	assert.Equal(t, amy.ID, got.Participants[1].ID)
	assert.Equal(t, orders.RoleUser, got.Participants[0].Role)
}

func TestFindOrder_NotFound(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.FindOrder(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindActiveProduct_SkipsInactive(t *testing.T) {
	s := setupTestStore(t)
	active := seedProduct(t, s, "Tea", "3.00", 1, true)
	retired := seedProduct(t, s, "Cocoa", "4.00", 1, false)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		p, err := tx.FindActiveProduct(ctx, active.ID)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "Tea", p.Name)

		p, err = tx.FindActiveProduct(ctx, retired.ID)
		require.NoError(t, err)
		assert.Nil(t, p)
		return nil
	})
	require.NoError(t, err)
}

func TestFindUsersByIDs_ReturnsOnlyExisting(t *testing.T) {
	s := setupTestStore(t)
	bob := seedUser(t, s, "Bob", "bob@example.com")

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		users, err := tx.FindUsersByIDs(ctx, []string{bob.ID, "ghost"})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, bob.ID, users[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestDecrementStock_IsConditional(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "Coffee", "10.00", 5, true)

	err := s.RunInTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		ok, err := tx.DecrementStock(ctx, p.ID, 3)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.DecrementStock(ctx, p.ID, 3)
		require.NoError(t, err)
		assert.False(t, ok, "only 2 left")
		return nil
	})
	require.NoError(t, err)

	got, err := s.FindProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
}

func TestUpdateOrderStatus_IsConditional(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "Coffee", "10.00", 5, true)
	u := seedUser(t, s, "Bob", "bob@example.com")
	o := newOrder(p, 1, *u)
	insertOrder(t, s, o)

	at := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	err := s.RunInTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		ok, err := tx.UpdateOrderStatus(ctx, o.ID, orders.StatusPending, orders.StatusPaid, at)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.UpdateOrderStatus(ctx, o.ID, orders.StatusPending, orders.StatusCancelled, at)
		require.NoError(t, err)
		assert.False(t, ok, "status is no longer PENDING")
		return nil
	})
	require.NoError(t, err)

	got, err := s.FindOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.True(t, at.Equal(got.UpdatedAt))
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "Coffee", "10.00", 5, true)
	u := seedUser(t, s, "Bob", "bob@example.com")
	o := newOrder(p, 1, *u)

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		require.NoError(t, tx.InsertOrder(ctx, o))
		ok, err := tx.DecrementStock(ctx, p.ID, 1)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.FindOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	var items int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*) FROM order_items`).Scan(&items))
	assert.Zero(t, items)

	prod, err := s.FindProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, prod.Stock)
}

func TestListOrders_NewestFirstWithFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "Coffee", "10.00", 50, true)
	u := seedUser(t, s, "Bob", "bob@example.com")

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		o := newOrder(p, 1, *u)
		o.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		o.UpdatedAt = o.CreatedAt
		if i%2 == 1 {
			o.Status = orders.StatusPaid
		}
		insertOrder(t, s, o)
		ids = append(ids, o.ID)
	}

	got, total, err := s.ListOrders(ctx, orders.ListFilter{Offset: 0, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, got, 2)
	assert.Equal(t, ids[4], got[0].ID)
	assert.Equal(t, ids[3], got[1].ID)
	assert.Len(t, got[0].Items, 1)
	assert.Len(t, got[0].Participants, 1)

	got, total, err = s.ListOrders(ctx, orders.ListFilter{Offset: 4, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, got, 1)
	assert.Equal(t, ids[0], got[0].ID)

	got, total, err = s.ListOrders(ctx, orders.ListFilter{Status: orders.StatusPaid, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, got, 2)
	assert.Equal(t, ids[3], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
}

func TestFindOrderIDByIdempotencyKey(t *testing.T) {
	s := setupTestStore(t)
	p := seedProduct(t, s, "Coffee", "10.00", 5, true)
	u := seedUser(t, s, "Bob", "bob@example.com")
	o := newOrder(p, 1, *u)
	o.IdempotencyKey = "abc"
	insertOrder(t, s, o)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		id, err := tx.FindOrderIDByIdempotencyKey(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, o.ID, id)

		id, err = tx.FindOrderIDByIdempotencyKey(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, id)
		return nil
	})
	require.NoError(t, err)
}

func TestListProducts_ActiveOnly(t *testing.T) {
	s := setupTestStore(t)
	seedProduct(t, s, "Tea", "3.00", 1, true)
	seedProduct(t, s, "Cocoa", "4.00", 1, false)
	seedProduct(t, s, "Americano", "5.00", 1, true)

	ps, err := s.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "Americano", ps[0].Name)
	assert.Equal(t, "Tea", ps[1].Name)
}

func TestInsertOrder_DuplicateIdempotencyKey(t *testing.T) {
	s := setupTestStore(t)
	p := seedProduct(t, s, "Coffee", "10.00", 5, true)
	u := seedUser(t, s, "Bob", "bob@example.com")
	first := newOrder(p, 1, *u)
	first.IdempotencyKey = "abc"
	insertOrder(t, s, first)

	second := newOrder(p, 1, *u)
	second.IdempotencyKey = "abc"
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.InsertOrder(ctx, second)
	})
	assert.ErrorIs(t, err, orders.ErrIdempotencyConflict)

	// A clash on the primary key is not an idempotency conflict.
	dup := newOrder(p, 1, *u)
	dup.ID = first.ID
	err = s.RunInTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.InsertOrder(ctx, dup)
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, orders.ErrIdempotencyConflict)
}

func TestInsertProduct_RejectsNonPositivePrice(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, price := range []string{"0", "0.00", "-1.50"} {
		p := &orders.Product{Name: "Free " + price, Price: decimal.RequireFromString(price), Stock: 1, Active: true}
		assert.Error(t, s.InsertProduct(ctx, p), price)
	}
	require.NoError(t, s.InsertProduct(ctx, &orders.Product{Name: "Cent", Price: decimal.RequireFromString("0.01"), Stock: 1, Active: true}))
}
