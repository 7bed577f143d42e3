package redisx

import "time"

const (
	// Idempotent create: idem:order:create:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Status probe: order_status:{order_id} -> {"orderId": "...", "status": "...", "updatedAt": "..."}
	KeyOrderStatus = "order_status:%s"

	// Full order snapshot: order:{order_id} -> OrderView JSON
	KeyOrderSnapshot = "order:%s"

	// Newest UpdatedAt (unix micros) seen for an order; guards the two keys above.
	KeyOrderVersion = "order_version:%s"

	// Dedup of consumed events: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	// Outlives both view TTLs so a refused stale write cannot reappear after the view expires.
	TTLOrderVersion = 15 * time.Minute
)
