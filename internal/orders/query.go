package orders

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// GetOrder returns the full snapshot of one order, served from the cache when possible.
func (s *Service) GetOrder(ctx context.Context, id string) (view *OrderView, err error) {
	ctx, logger, done := s.observe(ctx, useCaseGet, attribute.String("order.id", id))
	defer func() { done(err) }()

	if v, err := s.cache.Order(ctx, id); err != nil {
		logger.Warn("order_cache_read_failed", zap.Error(err))
	} else if v != nil {
		return v, nil
	}

	o, err := s.store.FindOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, orderNotFound(id)
	}
	view = DetailView(o)
	if err := s.cache.StoreOrder(ctx, view); err != nil {
		logger.Warn("order_cache_write_failed", zap.Error(err))
	}
	return view, nil
}

// ListOrders pages through orders newest first, optionally filtered by status.
func (s *Service) ListOrders(ctx context.Context, p ListParams) (page *OrderPage, err error) {
	ctx, _, done := s.observe(ctx, useCaseList,
		attribute.Int("page", p.Page),
		attribute.Int("limit", p.Limit),
		attribute.String("status", string(p.Status)),
	)
	defer func() { done(err) }()

	p, err = p.normalize()
	if err != nil {
		return nil, err
	}
	rows, total, err := s.store.ListOrders(ctx, ListFilter{Status: p.Status, Offset: p.offset(), Limit: p.Limit})
	if err != nil {
		return nil, err
	}
	page = &OrderPage{Data: make([]OrderView, 0, len(rows)), Meta: NewPageMeta(total, p.Page, p.Limit)}
	for i := range rows {
		page.Data = append(page.Data, *DetailView(&rows[i]))
	}
	return page, nil
}

// OrderStatus answers the lightweight status probe.
func (s *Service) OrderStatus(ctx context.Context, id string) (sv *StatusView, err error) {
	ctx, logger, done := s.observe(ctx, useCaseStatus, attribute.String("order.id", id))
	defer func() { done(err) }()

	if v, err := s.cache.Status(ctx, id); err != nil {
		logger.Warn("status_cache_read_failed", zap.Error(err))
	} else if v != nil {
		return v, nil
	}

	o, err := s.store.FindOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, orderNotFound(id)
	}
	sv = &StatusView{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt}
	if err := s.cache.StoreStatus(ctx, *sv); err != nil {
		logger.Warn("status_cache_write_failed", zap.Error(err))
	}
	return sv, nil
}

// ListProducts returns the active catalogue.
func (s *Service) ListProducts(ctx context.Context) (ps []Product, err error) {
	ctx, _, done := s.observe(ctx, useCaseProducts)
	defer func() { done(err) }()

	return s.store.ListProducts(ctx)
}
