package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/shop-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// Cache implements orders.Cache on Redis. Misses are reported as nil values, never redis.Nil.
type Cache struct {
	rdb redis.Cmdable
}

func NewCache(rdb redis.Cmdable) *Cache { return &Cache{rdb: rdb} }

var _ orders.Cache = (*Cache)(nil)

func (c *Cache) Order(ctx context.Context, id string) (*orders.OrderView, error) {
	var v orders.OrderView
	ok, err := c.getJSON(ctx, fmt.Sprintf(KeyOrderSnapshot, id), &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (c *Cache) StoreOrder(ctx context.Context, v *orders.OrderView) error {
	var version time.Time
	switch {
	case v.UpdatedAt != nil:
		version = *v.UpdatedAt
	case v.CreatedAt != nil:
		version = *v.CreatedAt
	}
	return c.setIfNewer(ctx, v.ID, fmt.Sprintf(KeyOrderSnapshot, v.ID), v, version, TTLOrderCache)
}

func (c *Cache) Status(ctx context.Context, id string) (*orders.StatusView, error) {
	var v orders.StatusView
	ok, err := c.getJSON(ctx, fmt.Sprintf(KeyOrderStatus, id), &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (c *Cache) StoreStatus(ctx context.Context, v orders.StatusView) error {
	return c.setIfNewer(ctx, v.OrderID, fmt.Sprintf(KeyOrderStatus, v.OrderID), v, v.UpdatedAt, TTLStatusCache)
}

// InvalidateOrder deletes both views and records version, so refills read before the change
// are refused.
func (c *Cache) InvalidateOrder(ctx context.Context, id string, version time.Time) error {
	keys := []string{
		fmt.Sprintf(KeyOrderSnapshot, id),
		fmt.Sprintf(KeyOrderStatus, id),
		fmt.Sprintf(KeyOrderVersion, id),
	}
	return invalidateScript.Run(ctx, c.rdb, keys, version.UnixMicro(), TTLOrderVersion.Milliseconds()).Err()
}

func (c *Cache) IdempotentOrderID(ctx context.Context, key string) (string, error) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (c *Cache) RememberIdempotency(ctx context.Context, key, orderID string) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderID, TTLIdempotency).Err()
}

// FirstDelivery reports whether eventID has not been seen by consumer before, marking it seen.
func (c *Cache) FirstDelivery(ctx context.Context, consumer, eventID string) (bool, error) {
	return MarkOnce(ctx, c.rdb, fmt.Sprintf(KeyDedup, consumer, eventID), TTLDedup)
}

// ForgetDelivery clears a dedup mark so a failed event can be retried.
func (c *Cache) ForgetDelivery(ctx context.Context, consumer, eventID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyDedup, consumer, eventID)).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, out any) (bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Versions are unix microseconds, exact in a Lua number.
var (
	setIfNewerScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]))
local v = tonumber(ARGV[1])
if cur and cur > v then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[4])
return 1
`)

	invalidateScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[3]))
local v = tonumber(ARGV[1])
if cur and cur > v then
  return 0
end
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('SET', KEYS[3], ARGV[1], 'PX', ARGV[2])
return 1
`)
)

// setIfNewer writes v under key unless the order already has a newer version recorded.
func (c *Cache) setIfNewer(ctx context.Context, orderID, key string, v any, version time.Time, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	keys := []string{key, fmt.Sprintf(KeyOrderVersion, orderID)}
	return setIfNewerScript.Run(ctx, c.rdb, keys,
		version.UnixMicro(), b, ttl.Milliseconds(), TTLOrderVersion.Milliseconds(),
	).Err()
}
