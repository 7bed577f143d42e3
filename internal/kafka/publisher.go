package kafka

import (
	"context"
	"strconv"

	"github.com/ariefcatur/shop-orders/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// Publisher adapts Producer to orders.EventPublisher.
type Publisher struct {
	Producer *Producer
}

var _ orders.EventPublisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, topic string, key []byte, env orders.Envelope) error {
	value, err := Marshal(env)
	if err != nil {
		return err
	}
	return p.Producer.Publish(ctx, topic, key, value,
		kafka.Header{Key: HeaderEventType, Value: []byte(env.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
