package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/shop-orders/internal/logging"
	"github.com/ariefcatur/shop-orders/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "github.com/ariefcatur/shop-orders/internal/orders"
	spanPrefix = "UC."

	useCaseCreate   = "order.create"
	useCasePay      = "order.pay"
	useCasePrepare  = "order.prepare"
	useCaseDeliver  = "order.deliver"
	useCaseCancel   = "order.cancel"
	useCaseGet      = "order.get"
	useCaseList     = "order.list"
	useCaseStatus   = "order.status"
	useCaseProducts = "product.list"
)

// Service runs order creation, the status machine and the read paths.
// Every mutating operation executes inside a single Store transaction; cache writes and
// event publishing happen only after commit and never fail the operation.
type Service struct {
	store     Store
	cache     Cache
	publisher EventPublisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	tracer    trace.Tracer
	producer  string
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithProducerName sets the producer field of published envelopes.
func WithProducerName(name string) Option { return func(s *Service) { s.producer = name } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(gen func() string) Option { return func(s *Service) { s.newID = gen } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		cache:     nopCache{},
		publisher: nopPublisher{},
		log:       zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		producer:  "order-api",
		// Postgres keeps microseconds; truncating keeps returned snapshots equal to reloaded ones.
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// observe opens the use case span and returns the matching finisher, which records the
// outcome on the span, in metrics and as one use_case_done log line.
func (s *Service) observe(ctx context.Context, useCase string, attrs ...attribute.KeyValue) (context.Context, *zap.Logger, func(error)) {
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := s.tracer.Start(ctx, spanPrefix+useCase, trace.WithAttributes(attrs...))
	logger := logging.FromContextOr(ctx, s.log).With(zap.String("use_case", useCase))
	start := time.Now()

	return ctx, logger, func(err error) {
		lat := time.Since(start)
		outcome := Outcome(err)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		s.metrics.ObserveUseCase(useCase, outcome, lat)

		fields := []zap.Field{
			zap.String("outcome", outcome),
			zap.Float64("latency_seconds", lat.Seconds()),
		}
		if sc := span.SpanContext(); sc.IsValid() {
			fields = append(fields,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		if outcome == "error" {
			logger.Error("use_case_done", fields...)
			return
		}
		logger.Info("use_case_done", fields...)
	}
}

// afterCommit invalidates the cached views and publishes the lifecycle event for o's current
// status. Views are refilled by the next read, so a late afterCommit can never put an older
// status back in the cache.
func (s *Service) afterCommit(ctx context.Context, logger *zap.Logger, o *Order, prev Status) {
	if err := s.cache.InvalidateOrder(ctx, o.ID, o.UpdatedAt); err != nil {
		logger.Warn("order_cache_invalidate_failed", zap.String("order_id", o.ID), zap.Error(err))
	}

	eventType := EventTypeFor(o.Status)
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		traceID = sc.TraceID().String()
	}
	env, err := newOrderEnvelope(s.newID(), s.producer, traceID, o, prev)
	if err == nil {
		err = s.publisher.Publish(ctx, TopicFor(eventType), PartitionKey(o.ID), env)
	}
	if err != nil {
		s.metrics.EventPublished(eventType, "error")
		logger.Warn("event_publish_failed",
			zap.String("order_id", o.ID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return
	}
	s.metrics.EventPublished(eventType, "ok")
}
