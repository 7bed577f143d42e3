package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderPaid      = "OrderPaid"
	EventOrderPreparing = "OrderPreparing"
	EventOrderDelivered = "OrderDelivered"
	EventOrderCancelled = "OrderCancelled"

	EventVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the Event* consts
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type EventItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// OrderEventPayload is shared by every lifecycle event.
type OrderEventPayload struct {
	OrderID        string          `json:"order_id"`
	CustomerID     string          `json:"customer_id"`
	Status         Status          `json:"status"`
	PreviousStatus Status          `json:"previous_status,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Items          []EventItem     `json:"items"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EventTypeFor maps the status an order just entered to its event type.
func EventTypeFor(s Status) string {
	switch s {
	case StatusPending:
		return EventOrderCreated
	case StatusPaid:
		return EventOrderPaid
	case StatusPreparing:
		return EventOrderPreparing
	case StatusDelivered:
		return EventOrderDelivered
	case StatusCancelled:
		return EventOrderCancelled
	}
	return ""
}

func newOrderEnvelope(eventID, producer, traceID string, o *Order, prev Status) (Envelope, error) {
	items := make([]EventItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, EventItem{ProductID: it.ProductID, Qty: it.Quantity})
	}
	payload, err := json.Marshal(OrderEventPayload{
		OrderID:        o.ID,
		CustomerID:     o.CustomerID,
		Status:         o.Status,
		PreviousStatus: prev,
		TotalAmount:    o.TotalAmount,
		Items:          items,
		UpdatedAt:      o.UpdatedAt,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", o.Status, err)
	}
	return Envelope{
		EventID:       eventID,
		EventType:     EventTypeFor(o.Status),
		EventVersion:  EventVersion,
		OccurredAt:    o.UpdatedAt,
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: o.ID,
		Payload:       payload,
	}, nil
}
