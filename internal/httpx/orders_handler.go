package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/shop-orders/internal/logging"
	"github.com/ariefcatur/shop-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrdersHandler struct {
	Service *orders.Service
	Timeout time.Duration // per request; 5s when zero
}

type errorResp struct {
	Error string `json:"error"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.orderStatus)
	r.Patch("/orders/{id}/pay", h.transition(h.Service.Pay))
	r.Patch("/orders/{id}/prepare", h.transition(h.Service.Prepare))
	r.Patch("/orders/{id}/deliver", h.transition(h.Service.Deliver))
	r.Patch("/orders/{id}/cancel", h.transition(h.Service.Cancel))
	r.Get("/products", h.listProducts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain error kinds to status codes. Anything unrecognised is logged and
// answered with a generic message so internals do not leak.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{err.Error()})
	case errors.Is(err, orders.ErrValidation),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrInsufficientStock):
		writeJSON(w, http.StatusBadRequest, errorResp{err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResp{"request timed out"})
	default:
		logging.FromContext(r.Context()).Error("request_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp{"internal server error"})
	}
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{"invalid json"})
		return
	}
	in.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)

	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Service.CreateOrder(ctx, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, res.Order)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var p orders.ListParams

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResp{"page must be at least 1"})
			return
		}
		p.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > orders.MaxLimit {
			writeJSON(w, http.StatusBadRequest, errorResp{"limit must be between 1 and " + strconv.Itoa(orders.MaxLimit)})
			return
		}
		p.Limit = n
	}
	if v := q.Get("status"); v != "" {
		s, err := orders.ParseStatus(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		p.Status = s
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	page, err := h.Service.ListOrders(ctx, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	v, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	v, err := h.Service.OrderStatus(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) transition(op func(context.Context, string) (*orders.OrderView, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := h.ctx(r)
		defer cancel()

		v, err := op(ctx, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	ps, err := h.Service.ListProducts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}
