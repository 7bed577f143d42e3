package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CreateOrderResult struct {
	Order *OrderView
	// Replayed is true when IdempotencyKey matched an existing order; nothing was written.
	Replayed bool
}

// CreateOrder validates the request, resolves users and products, snapshots prices and
// persists the order with its items and participant links in one transaction.
// Stock is checked but not decremented; that happens on Pay.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (res *CreateOrderResult, err error) {
	ctx, logger, done := s.observe(ctx, useCaseCreate,
		attribute.Int("order.items", len(in.Items)),
		attribute.Int("order.users", len(in.UserIDs)),
	)
	defer func() { done(err) }()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		if res := s.replayFromCache(ctx, logger, in.IdempotencyKey); res != nil {
			return res, nil
		}
	}

	var (
		order    *Order
		replayed bool
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if in.IdempotencyKey != "" {
			existing, err := findByIdempotencyKey(ctx, tx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				order, replayed = existing, true
				return nil
			}
		}

		built, err := s.assemble(ctx, tx, in)
		if err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, built); err != nil {
			return err
		}
		order = built
		return nil
	})
	if errors.Is(err, ErrIdempotencyConflict) {
		// A concurrent request with the same key committed first; answer with its order.
		err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			existing, err := findByIdempotencyKey(ctx, tx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("replay idempotency key %q: %w", in.IdempotencyKey, ErrIdempotencyConflict)
			}
			order, replayed = existing, true
			return nil
		})
	}
	if err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		if err := s.cache.RememberIdempotency(ctx, in.IdempotencyKey, order.ID); err != nil {
			logger.Warn("idempotency_cache_write_failed", zap.Error(err))
		}
	}
	if replayed {
		trace.SpanFromContext(ctx).AddEvent("order.idempotent_replay",
			trace.WithAttributes(attribute.String("order.id", order.ID)))
		return &CreateOrderResult{Order: CreatedView(order), Replayed: true}, nil
	}

	s.afterCommit(ctx, logger, order, "")
	return &CreateOrderResult{Order: CreatedView(order)}, nil
}

func (s *Service) replayFromCache(ctx context.Context, logger *zap.Logger, key string) *CreateOrderResult {
	id, err := s.cache.IdempotentOrderID(ctx, key)
	if err != nil {
		logger.Warn("idempotency_cache_read_failed", zap.Error(err))
		return nil
	}
	if id == "" {
		return nil
	}
	o, err := s.store.FindOrder(ctx, id)
	if err != nil || o == nil {
		// The store is the source of truth; fall through to the transactional check.
		return nil
	}
	return &CreateOrderResult{Order: CreatedView(o), Replayed: true}
}

func findByIdempotencyKey(ctx context.Context, tx Tx, key string) (*Order, error) {
	id, err := tx.FindOrderIDByIdempotencyKey(ctx, key)
	if err != nil || id == "" {
		return nil, err
	}
	return tx.FindOrder(ctx, id, false)
}

// assemble builds the order aggregate. Participants keep input order; the first one is the
// primary customer and supplies customerId and customerEmail, while the display name is
// always the caller's customerName.
func (s *Service) assemble(ctx context.Context, tx Tx, in CreateOrderInput) (*Order, error) {
	users, err := tx.FindUsersByIDs(ctx, in.UserIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	participants := make([]User, 0, len(in.UserIDs))
	var missing []string
	for _, id := range in.UserIDs {
		u, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		participants = append(participants, u)
	}
	if len(missing) > 0 {
		return nil, usersNotFound(missing)
	}
	primary := participants[0]

	now := s.now()
	o := &Order{
		ID:             s.newID(),
		CustomerID:     primary.ID,
		CustomerName:   strings.TrimSpace(in.CustomerName),
		CustomerEmail:  primary.Email,
		Status:         StatusPending,
		Notes:          in.Notes,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          make([]OrderItem, 0, len(in.Items)),
		Participants:   participants,
	}

	total := decimal.Zero
	for _, it := range in.Items {
		p, err := tx.FindActiveProduct(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, productUnavailable(it.ProductID)
		}
		if p.Stock < it.Quantity {
			return nil, insufficientStock(p.Name)
		}
		line := lineTotal(p.Price, it.Quantity)
		o.Items = append(o.Items, OrderItem{
			ID:          s.newID(),
			OrderID:     o.ID,
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    it.Quantity,
			TotalPrice:  line,
		})
		total = total.Add(line)
	}
	o.TotalAmount = total
	return o, nil
}
