package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ariefcatur/shop-orders/internal/metrics"
	"github.com/ariefcatur/shop-orders/internal/orders"
	"github.com/ariefcatur/shop-orders/internal/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv   *httptest.Server
	store *sqlite.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db, err := sqlite.OpenMigrated(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := sqlite.New(db)
	svc := orders.NewService(store, orders.WithMetrics(m))

	r := NewRouter(nil, m, reg)
	(&OrdersHandler{Service: svc}).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, store: store}
}

func (a *testAPI) seed(t *testing.T) (userID, productID string) {
	t.Helper()
	ctx := context.Background()
	u := &orders.User{Name: "Dana", Email: "dana@example.com", PasswordHash: "hash"}
	require.NoError(t, a.store.InsertUser(ctx, u))
	p := &orders.Product{Name: "Teapot", Price: decimal.RequireFromString("12.50"), Stock: 4, Active: true}
	require.NoError(t, a.store.InsertProduct(ctx, p))
	return u.ID, p.ID
}

func (a *testAPI) do(t *testing.T, method, path string, body any, header ...string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decodeInto[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func errorMessage(t *testing.T, b []byte) string {
	return decodeInto[errorResp](t, b).Error
}

func TestOrdersAPI_Lifecycle(t *testing.T) {
	api := newTestAPI(t)
	userID, productID := api.seed(t)

	code, body := api.do(t, http.MethodPost, "/orders", map[string]any{
		"customerName": "  Dana Scully ",
		"userIds":      []string{userID},
		"items":        []map[string]any{{"productId": productID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	created := decodeInto[orders.OrderView](t, body)
	assert.Equal(t, "Dana Scully", created.CustomerName)
	assert.True(t, decimal.RequireFromString("25").Equal(created.TotalAmount))
	assert.Equal(t, orders.StatusPending, created.Status)
	require.Len(t, created.Items, 1)
	assert.Empty(t, created.Items[0].ProductID)

	code, body = api.do(t, http.MethodGet, "/orders/"+created.ID, nil)
	require.Equal(t, http.StatusOK, code)
	detail := decodeInto[orders.OrderView](t, body)
	assert.Equal(t, productID, detail.Items[0].ProductID)
	assert.Equal(t, "dana@example.com", detail.CustomerEmail)

	code, body = api.do(t, http.MethodPatch, "/orders/"+created.ID+"/deliver", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "order "+created.ID+" is not in preparation and cannot be delivered", errorMessage(t, body))

	for _, step := range []struct {
		path string
		want orders.Status
	}{
		{"/pay", orders.StatusPaid},
		{"/prepare", orders.StatusPreparing},
		{"/deliver", orders.StatusDelivered},
	} {
		code, body = api.do(t, http.MethodPatch, "/orders/"+created.ID+step.path, nil)
		require.Equal(t, http.StatusOK, code, string(body))
		assert.Equal(t, step.want, decodeInto[orders.OrderView](t, body).Status)
	}

	code, body = api.do(t, http.MethodGet, "/orders/"+created.ID+"/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, orders.StatusDelivered, decodeInto[orders.StatusView](t, body).Status)

	code, body = api.do(t, http.MethodPatch, "/orders/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "order "+created.ID+" cannot be cancelled", errorMessage(t, body))

	code, body = api.do(t, http.MethodGet, "/products", nil)
	require.Equal(t, http.StatusOK, code)
	ps := decodeInto[[]orders.Product](t, body)
	require.Len(t, ps, 1)
	assert.Equal(t, 2, ps[0].Stock)
}

func TestOrdersAPI_IdempotentCreate(t *testing.T) {
	api := newTestAPI(t)
	userID, productID := api.seed(t)
	req := map[string]any{
		"customerName": "Dana",
		"userIds":      []string{userID},
		"items":        []map[string]any{{"productId": productID, "quantity": 1}},
	}

	code, body := api.do(t, http.MethodPost, "/orders", req, HeaderIdempotencyKey, "checkout-42")
	require.Equal(t, http.StatusCreated, code, string(body))
	first := decodeInto[orders.OrderView](t, body)

	code, body = api.do(t, http.MethodPost, "/orders", req, HeaderIdempotencyKey, "checkout-42")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, first.ID, decodeInto[orders.OrderView](t, body).ID)

	code, body = api.do(t, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decodeInto[orders.OrderPage](t, body).Meta.Total)
}

func TestOrdersAPI_Errors(t *testing.T) {
	api := newTestAPI(t)
	userID, productID := api.seed(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantMsg  string
	}{
		{"malformed json", http.MethodPost, "/orders", "{", http.StatusBadRequest, "invalid json"},
		{"missing name", http.MethodPost, "/orders", map[string]any{
			"userIds": []string{userID},
			"items":   []map[string]any{{"productId": productID, "quantity": 1}},
		}, http.StatusBadRequest, "customerName is required"},
		{"unknown user", http.MethodPost, "/orders", map[string]any{
			"customerName": "x",
			"userIds":      []string{"ghost"},
			"items":        []map[string]any{{"productId": productID, "quantity": 1}},
		}, http.StatusNotFound, "users not found: ghost"},
		{"too much stock", http.MethodPost, "/orders", map[string]any{
			"customerName": "x",
			"userIds":      []string{userID},
			"items":        []map[string]any{{"productId": productID, "quantity": 5}},
		}, http.StatusBadRequest, "insufficient stock for product Teapot"},
		{"unknown order", http.MethodGet, "/orders/nope", nil, http.StatusNotFound, "order nope not found"},
		{"pay unknown order", http.MethodPatch, "/orders/nope/pay", nil, http.StatusNotFound, "order nope not found"},
		{"page zero", http.MethodGet, "/orders?page=0", nil, http.StatusBadRequest, "page must be at least 1"},
		{"limit too big", http.MethodGet, "/orders?limit=101", nil, http.StatusBadRequest, "limit must be between 1 and 100"},
		{"bad status", http.MethodGet, "/orders?status=SHIPPED", nil, http.StatusBadRequest, `invalid status "SHIPPED"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := api.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, code, string(body))
			assert.Equal(t, tt.wantMsg, errorMessage(t, body))
		})
	}
}

func TestOrdersAPI_ListPagination(t *testing.T) {
	api := newTestAPI(t)
	userID, productID := api.seed(t)
	for i := 0; i < 3; i++ {
		code, body := api.do(t, http.MethodPost, "/orders", map[string]any{
			"customerName": "Dana",
			"userIds":      []string{userID},
			"items":        []map[string]any{{"productId": productID, "quantity": 1}},
		})
		require.Equal(t, http.StatusCreated, code, string(body))
	}

	code, body := api.do(t, http.MethodGet, "/orders?page=2&limit=2&status=PENDING", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	page := decodeInto[orders.OrderPage](t, body)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, orders.PageMeta{Total: 3, Page: 2, Limit: 2, TotalPages: 2, HasNextPage: false, HasPreviousPage: true}, page.Meta)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))

	code, _ = api.do(t, http.MethodGet, "/orders/abc", nil)
	require.Equal(t, http.StatusNotFound, code)

	code, body = api.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `route="/orders/{id}"`)
	assert.Contains(t, string(body), `shop_orders_usecase_requests_total{outcome="not_found",use_case="order.get"} 1`)
}
