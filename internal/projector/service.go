// Package projector keeps the read-side status cache in step with order lifecycle events.
package projector

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/shop-orders/internal/kafka"
	"github.com/ariefcatur/shop-orders/internal/metrics"
	"github.com/ariefcatur/shop-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const consumerName = "projector"

type StatusCache interface {
	Status(ctx context.Context, orderID string) (*orders.StatusView, error)
	StoreStatus(ctx context.Context, v orders.StatusView) error
}

// Deduper remembers which event ids a consumer has already handled.
type Deduper interface {
	FirstDelivery(ctx context.Context, consumer, eventID string) (bool, error)
	ForgetDelivery(ctx context.Context, consumer, eventID string) error
}

type Service struct {
	Cache   StatusCache
	Dedup   Deduper
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

var handled = map[string]bool{
	orders.EventOrderCreated:   true,
	orders.EventOrderPaid:      true,
	orders.EventOrderPreparing: true,
	orders.EventOrderDelivered: true,
	orders.EventOrderCancelled: true,
}

// HandleOrderEvent is installed as the consumer handler. Returning an error makes the consumer
// retry the event; its offset is committed only after it succeeds.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	log := s.logger()

	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// A poison message would block the partition forever; drop it.
		log.Error("projector_bad_envelope", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		s.Metrics.EventConsumed("unknown", "malformed")
		return nil
	}
	if !handled[env.EventType] {
		s.Metrics.EventConsumed(env.EventType, "ignored")
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType),
		zap.String("order_id", env.CorrelationID))

	if s.Dedup != nil {
		first, err := s.Dedup.FirstDelivery(ctx, consumerName, env.EventID)
		if err != nil {
			log.Warn("projector_dedup_unavailable", zap.Error(err))
		} else if !first {
			s.Metrics.EventConsumed(env.EventType, "duplicate")
			return nil
		}
	}

	if err := s.project(ctx, env); err != nil {
		if s.Dedup != nil {
			if ferr := s.Dedup.ForgetDelivery(ctx, consumerName, env.EventID); ferr != nil {
				log.Warn("projector_dedup_forget_failed", zap.Error(ferr))
			}
		}
		s.Metrics.EventConsumed(env.EventType, "error")
		log.Error("projector_failed", zap.Error(err))
		return err
	}
	s.Metrics.EventConsumed(env.EventType, "ok")
	log.Debug("projector_applied")
	return nil
}

func (s *Service) project(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderEventPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.OrderID == "" {
		return fmt.Errorf("%s event %s has no order id", env.EventType, env.EventID)
	}

	// Partitions keep per-order ordering, but a redelivered older event must not
	// overwrite a newer status.
	cur, err := s.Cache.Status(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("read status cache: %w", err)
	}
	if cur != nil && cur.UpdatedAt.After(p.UpdatedAt) {
		return nil
	}
	if err := s.Cache.StoreStatus(ctx, orders.StatusView{OrderID: p.OrderID, Status: p.Status, UpdatedAt: p.UpdatedAt}); err != nil {
		return fmt.Errorf("write status cache: %w", err)
	}
	return nil
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
