package orders

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

type transition struct {
	useCase string
	target  Status
	reject  func(o *Order) string
}

var (
	payTransition = transition{
		useCase: useCasePay,
		target:  StatusPaid,
		reject: func(o *Order) string {
			return fmt.Sprintf("order cannot be paid, current status: %s", o.Status)
		},
	}
	prepareTransition = transition{
		useCase: useCasePrepare,
		target:  StatusPreparing,
		reject: func(o *Order) string {
			return fmt.Sprintf("order %s is not paid and cannot be prepared", o.ID)
		},
	}
	deliverTransition = transition{
		useCase: useCaseDeliver,
		target:  StatusDelivered,
		reject: func(o *Order) string {
			return fmt.Sprintf("order %s is not in preparation and cannot be delivered", o.ID)
		},
	}
	cancelTransition = transition{
		useCase: useCaseCancel,
		target:  StatusCancelled,
		reject: func(o *Order) string {
			return fmt.Sprintf("order %s cannot be cancelled", o.ID)
		},
	}
)

// Pay moves a PENDING order to PAID and removes every item's quantity from product stock in
// the same transaction. A product without enough stock fails the whole payment.
func (s *Service) Pay(ctx context.Context, id string) (*OrderView, error) {
	return s.transition(ctx, id, payTransition)
}

// Prepare moves a PAID order to PREPARING.
func (s *Service) Prepare(ctx context.Context, id string) (*OrderView, error) {
	return s.transition(ctx, id, prepareTransition)
}

// Deliver moves a PREPARING order to DELIVERED.
func (s *Service) Deliver(ctx context.Context, id string) (*OrderView, error) {
	return s.transition(ctx, id, deliverTransition)
}

// Cancel moves any order that is neither DELIVERED nor CANCELLED to CANCELLED.
// Stock already taken by payment is not returned.
func (s *Service) Cancel(ctx context.Context, id string) (*OrderView, error) {
	return s.transition(ctx, id, cancelTransition)
}

func (s *Service) transition(ctx context.Context, id string, t transition) (view *OrderView, err error) {
	ctx, logger, done := s.observe(ctx, t.useCase, attribute.String("order.id", id))
	defer func() { done(err) }()

	if strings.TrimSpace(id) == "" {
		return nil, validationf("order id is required")
	}

	var (
		order *Order
		prev  Status
		units int
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.FindOrder(ctx, id, true)
		if err != nil {
			return err
		}
		if o == nil {
			return orderNotFound(id)
		}
		if !CanTransition(o.Status, t.target) {
			return &Error{Kind: ErrInvalidTransition, Message: t.reject(o)}
		}

		if t.target == StatusPaid {
			// Lock products in one global order so overlapping payments cannot deadlock.
			items := slices.Clone(o.Items)
			slices.SortStableFunc(items, func(a, b OrderItem) int { return strings.Compare(a.ProductID, b.ProductID) })
			for _, it := range items {
				ok, err := tx.DecrementStock(ctx, it.ProductID, it.Quantity)
				if err != nil {
					return err
				}
				if !ok {
					return insufficientStock(it.ProductName)
				}
				units += it.Quantity
			}
		}

		now := s.now()
		ok, err := tx.UpdateOrderStatus(ctx, o.ID, o.Status, t.target, now)
		if err != nil {
			return err
		}
		if !ok {
			// Another transaction moved the order first.
			return &Error{Kind: ErrInvalidTransition, Message: t.reject(o)}
		}
		prev = o.Status
		o.Status, o.UpdatedAt = t.target, now
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.StockDecremented(units)
	s.afterCommit(ctx, logger, order, prev)
	return TransitionView(order), nil
}
