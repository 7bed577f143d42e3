package orders

import (
	"context"
	"time"
)

// Store is the persistence port. Absent rows are reported as nil results, not errors.
type Store interface {
	// RunInTx commits when fn returns nil and rolls back on any other exit.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]Order, int, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

type ListFilter struct {
	Status Status // empty matches every status
	Offset int
	Limit  int
}

// Tx is the set of operations available inside RunInTx.
type Tx interface {
	FindUsersByIDs(ctx context.Context, ids []string) ([]User, error)
	FindActiveProduct(ctx context.Context, id string) (*Product, error)
	// FindOrder loads items (with product names) and participants. forUpdate locks the order row
	// where the store supports it.
	FindOrder(ctx context.Context, id string, forUpdate bool) (*Order, error)
	FindOrderIDByIdempotencyKey(ctx context.Context, key string) (string, error)
	InsertOrder(ctx context.Context, o *Order) error
	// DecrementStock reports false when stock is below qty; nothing is changed in that case.
	DecrementStock(ctx context.Context, productID string, qty int) (bool, error)
	// UpdateOrderStatus reports false when the order is no longer in status from.
	UpdateOrderStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
}

// Cache is a read-through accelerator. Misses return nil and a nil error.
//
// Entries are versioned by the order's UpdatedAt: a Store* call carrying a version older than
// the newest one the cache has seen for that order is dropped silently.
type Cache interface {
	Order(ctx context.Context, id string) (*OrderView, error)
	StoreOrder(ctx context.Context, v *OrderView) error
	Status(ctx context.Context, id string) (*StatusView, error)
	StoreStatus(ctx context.Context, v StatusView) error
	// InvalidateOrder drops the snapshot and status of an order that changed at version.
	InvalidateOrder(ctx context.Context, id string, version time.Time) error
	IdempotentOrderID(ctx context.Context, key string) (string, error)
	RememberIdempotency(ctx context.Context, key, orderID string) error
}

// EventPublisher hands lifecycle events to the message bus after commit.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, env Envelope) error
}

type nopCache struct{}

func (nopCache) Order(context.Context, string) (*OrderView, error)         { return nil, nil }
func (nopCache) StoreOrder(context.Context, *OrderView) error              { return nil }
func (nopCache) Status(context.Context, string) (*StatusView, error)       { return nil, nil }
func (nopCache) StoreStatus(context.Context, StatusView) error             { return nil }
func (nopCache) InvalidateOrder(context.Context, string, time.Time) error  { return nil }
func (nopCache) IdempotentOrderID(context.Context, string) (string, error) { return "", nil }
func (nopCache) RememberIdempotency(context.Context, string, string) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []byte, Envelope) error { return nil }
