package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
	"github.com/xenking/pharmacy-api/internal/domain/cart"
	"github.com/xenking/pharmacy-api/internal/domain/catalog"
	"github.com/xenking/pharmacy-api/internal/domain/coupon"
	"github.com/xenking/pharmacy-api/internal/domain/order"
	"github.com/xenking/pharmacy-api/internal/storage/memory"
)

// --- Mock implementations ---

type mockAuthenticator struct {
	keys map[string]auth.Principal
	err  error
}

func (m *mockAuthenticator) Authenticate(_ context.Context, key string) (auth.Principal, error) {
	if m.err != nil {
		return auth.Principal{}, m.err
	}
	p, ok := m.keys[key]
	if !ok {
		return auth.Principal{}, auth.ErrUnauthorized
	}
	return p, nil
}

// --- Helpers ---

const (
	aliceKey = "alice-key"
	bobKey   = "bob-key"
	adminKey = "admin-key"
)

type testEnv struct {
	server   *httptest.Server
	products *memory.Catalog
}

func newProduct(id, price string, stock int) catalog.Product {
	return catalog.Product{
		ID:       id,
		Name:     "Product " + id,
		Price:    decimal.RequireFromString(price),
		IsActive: true,
		Stock:    catalog.Stock{Quantity: stock},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	products := memory.NewCatalog(newProduct("A", "10.00", 5), newProduct("B", "20.00", 1))
	coupons := coupon.NewService(memory.NewCouponRepository(coupon.Coupon{
		Code:  "SAVE10",
		Kind:  coupon.KindPercentage,
		Value: decimal.NewFromInt(10),
	}))
	carts := cart.NewService(memory.NewCartRepository(), products)
	orders := order.NewService(carts, products, products, memory.NewOrderRepository(), order.WithCoupons(coupons))

	authn := &mockAuthenticator{keys: map[string]auth.Principal{
		aliceKey: {CustomerID: "alice"},
		bobKey:   {CustomerID: "bob"},
		adminKey: {IsAdmin: true},
	}}
	srv := httptest.NewServer(NewHandler(carts, orders).Routes(authn))
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, products: products}
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any) (int, map[string]any) {
	t.Helper()

	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := e.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock.Quantity
}

func address() map[string]any {
	return map[string]any{
		"fullName":   "Alice Smith",
		"street":     "1 Main St",
		"city":       "Springfield",
		"postalCode": "12345",
		"country":    "US",
	}
}

func (e *testEnv) placeOrder(t *testing.T, key string) map[string]any {
	t.Helper()
	status, _ := e.do(t, http.MethodPost, "/cart/items", key, map[string]any{"productId": "A", "quantity": 2})
	require.Equal(t, http.StatusOK, status)

	status, body := e.do(t, http.MethodPost, "/orders", key, map[string]any{
		"shippingAddress": address(),
		"paymentMethod":   "card",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body
}

// --- Tests ---

func TestSecurity(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.EqualValues(t, 401, body["code"])

	status, _ = env.do(t, http.MethodGet, "/cart", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodGet, "/cart", adminKey, nil)
	assert.Equal(t, http.StatusForbidden, status, "admin keys have no cart")
}

func TestSecurity_InternalError(t *testing.T) {
	authn := &mockAuthenticator{err: errors.New("db down")}
	srv := httptest.NewServer(NewHandler(nil, nil).Routes(authn))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/cart", nil)
	require.NoError(t, err)
	req.Header.Set(APIKeyHeader, "k")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"code":500,"message":"internal server error"}`, buf.String())
}

func TestCartEndpoints(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/cart", aliceKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body["customerId"])
	assert.Empty(t, body["items"])

	status, body = env.do(t, http.MethodPost, "/cart/items", aliceKey, map[string]any{"productId": "A", "quantity": 2})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["totalItems"])
	assert.EqualValues(t, 20, body["totalAmount"])

	status, body = env.do(t, http.MethodPut, "/cart/items/A", aliceKey, map[string]any{"quantity": 3})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["totalItems"])

	status, body = env.do(t, http.MethodDelete, "/cart/items/A", aliceKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["totalItems"])

	status, _ = env.do(t, http.MethodDelete, "/cart/items/A", aliceKey, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodPost, "/cart/items", aliceKey, map[string]any{"productId": "B", "quantity": 1})
	require.Equal(t, http.StatusOK, status)
	status, body = env.do(t, http.MethodDelete, "/cart", aliceKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["items"])
}

func TestCartEndpoints_Rejections(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"zero quantity", http.MethodPost, "/cart/items", map[string]any{"productId": "A", "quantity": 0}, http.StatusBadRequest},
		{"missing product id", http.MethodPost, "/cart/items", map[string]any{"quantity": 1}, http.StatusBadRequest},
		{"quantity not a number", http.MethodPost, "/cart/items", map[string]any{"productId": "A", "quantity": "two"}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/cart/items", "{", http.StatusBadRequest},
		{"unknown product", http.MethodPost, "/cart/items", map[string]any{"productId": "Z", "quantity": 1}, http.StatusUnprocessableEntity},
		{"over stock", http.MethodPost, "/cart/items", map[string]any{"productId": "B", "quantity": 2}, http.StatusUnprocessableEntity},
		{"update without quantity", http.MethodPut, "/cart/items/A", map[string]any{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, tt.method, tt.path, aliceKey, tt.body)
			assert.Equal(t, tt.status, status)
			assert.EqualValues(t, tt.status, body["code"])
		})
	}

	_, body := env.do(t, http.MethodPost, "/cart/items", aliceKey, map[string]any{"productId": "B", "quantity": 2})
	assert.Equal(t, "B", body["productId"])
	assert.EqualValues(t, 2, body["requested"])
	assert.EqualValues(t, 1, body["available"])
}

func TestCartValidateAndFix(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/cart/items", aliceKey, map[string]any{"productId": "A", "quantity": 4})
	require.Equal(t, http.StatusOK, status)
	env.products.Put(newProduct("A", "12.00", 2))

	status, body := env.do(t, http.MethodGet, "/cart/validate", aliceKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["valid"])
	issues := body["issues"].([]any)
	require.Len(t, issues, 1)
	assert.Equal(t, "insufficient_stock", issues[0].(map[string]any)["kind"])

	status, body = env.do(t, http.MethodPatch, "/cart/fix", aliceKey, nil)
	require.Equal(t, http.StatusOK, status)
	c := body["cart"].(map[string]any)
	assert.EqualValues(t, 2, c["totalItems"])
	assert.EqualValues(t, 24, c["totalAmount"])

	status, body = env.do(t, http.MethodGet, "/cart/validate", aliceKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t)

	for _, item := range []map[string]any{{"productId": "A", "quantity": 2}, {"productId": "B", "quantity": 1}} {
		status, _ := env.do(t, http.MethodPost, "/cart/items", aliceKey, item)
		require.Equal(t, http.StatusOK, status)
	}

	status, body := env.do(t, http.MethodPost, "/orders", aliceKey, map[string]any{
		"shippingAddress": address(),
		"paymentMethod":   "cash_on_delivery",
		"couponCode":      "save10",
		"notes":           "leave at door",
	})
	require.Equal(t, http.StatusCreated, status, body)

	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "alice", body["customerId"])
	assert.Regexp(t, `^RX-\d{8}-[0-9A-F]{8}$`, body["orderNumber"])
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 40, summary["subtotal"])
	assert.EqualValues(t, 4, summary["discount"])
	assert.Len(t, body["items"], 2)
	assert.Equal(t, "Alice Smith", body["billingAddress"].(map[string]any)["fullName"])
	assert.Len(t, body["statusHistory"], 1)

	assert.Equal(t, 3, env.stock(t, "A"))
	assert.Equal(t, 0, env.stock(t, "B"))

	_, cartBody := env.do(t, http.MethodGet, "/cart", aliceKey, nil)
	assert.Empty(t, cartBody["items"])

	status, body = env.do(t, http.MethodPost, "/orders", aliceKey, map[string]any{
		"shippingAddress": address(),
		"paymentMethod":   "card",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "cart is empty", body["message"])
}

func TestCreateOrder_Validation(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/orders", aliceKey, map[string]any{
		"shippingAddress": map[string]any{"fullName": "Alice"},
		"paymentMethod":   "bitcoin",
	})
	require.Equal(t, http.StatusBadRequest, status)
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "paymentMethod")
	assert.Contains(t, fields, "shippingAddress.city")

	status, body = env.do(t, http.MethodPost, "/orders", aliceKey, map[string]any{
		"shippingAddress": "somewhere",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["fields"], "shippingAddress")
}

func TestCreateOrder_StockDroppedAfterAdd(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/cart/items", aliceKey, map[string]any{"productId": "A", "quantity": 5})
	require.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodPost, "/cart/items", bobKey, map[string]any{"productId": "A", "quantity": 1})
	require.Equal(t, http.StatusOK, status)
	env.placeOrderFromCart(t, bobKey)

	status, body := env.do(t, http.MethodPost, "/orders", aliceKey, map[string]any{
		"shippingAddress": address(),
		"paymentMethod":   "card",
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "A", body["productId"])
	assert.EqualValues(t, 4, body["available"])
	assert.Equal(t, 4, env.stock(t, "A"))
}

func (e *testEnv) placeOrderFromCart(t *testing.T, key string) {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/orders", key, map[string]any{
		"shippingAddress": address(),
		"paymentMethod":   "card",
	})
	require.Equal(t, http.StatusCreated, status, body)
}

func TestGetOrder_Access(t *testing.T) {
	env := newTestEnv(t)
	o := env.placeOrder(t, aliceKey)
	id := o["id"].(string)

	status, body := env.do(t, http.MethodGet, "/orders/"+id, aliceKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])

	status, _ = env.do(t, http.MethodGet, "/orders/"+id, bobKey, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.do(t, http.MethodGet, "/orders/"+id, adminKey, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodGet, "/orders/nope", aliceKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "order not found", body["message"])
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	o := env.placeOrder(t, aliceKey)
	id := o["id"].(string)
	require.Equal(t, 3, env.stock(t, "A"))

	status, _ := env.do(t, http.MethodPut, "/orders/"+id+"/cancel", bobKey, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodPut, "/orders/"+id+"/cancel", aliceKey, map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, "changed my mind", body["cancellationReason"])
	assert.Equal(t, 5, env.stock(t, "A"))

	status, body = env.do(t, http.MethodPut, "/orders/"+id+"/cancel", aliceKey, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "cancelled", body["from"])
	assert.Equal(t, 5, env.stock(t, "A"))
}

func TestUpdateOrderStatus(t *testing.T) {
	env := newTestEnv(t)
	o := env.placeOrder(t, aliceKey)
	path := "/orders/" + o["id"].(string) + "/status"

	status, _ := env.do(t, http.MethodPut, path, aliceKey, map[string]any{"status": "confirmed"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodPut, path, adminKey, map[string]any{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["fields"], "status")

	status, body = env.do(t, http.MethodPut, path, adminKey, map[string]any{
		"status":         "shipped",
		"trackingNumber": "TRK-1",
		"paymentStatus":  "paid",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "shipped", body["status"])
	assert.Equal(t, "TRK-1", body["trackingNumber"])
	assert.Equal(t, "paid", body["paymentStatus"])
	assert.NotNil(t, body["estimatedDeliveryAt"])

	status, _ = env.do(t, http.MethodPut, path, adminKey, map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusConflict, status)

	status, body = env.do(t, http.MethodPut, path, adminKey, map[string]any{"status": "delivered"})
	require.Equal(t, http.StatusOK, status)
	assert.NotNil(t, body["deliveredAt"])

	status, _ = env.do(t, http.MethodPut, "/orders/"+o["id"].(string)+"/cancel", aliceKey, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, 3, env.stock(t, "A"))
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)
	env.products.Put(newProduct("A", "10.00", 100))
	for range 3 {
		env.placeOrder(t, aliceKey)
	}
	env.placeOrder(t, bobKey)

	status, body := env.do(t, http.MethodGet, "/orders?page=1&pageSize=2", aliceKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["total"])
	assert.EqualValues(t, 2, body["pages"])
	assert.Len(t, body["orders"], 2)

	status, body = env.do(t, http.MethodGet, "/orders?customerId=alice", bobKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"], "customers only see their own orders")

	status, body = env.do(t, http.MethodGet, "/orders", adminKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 4, body["total"])

	status, _ = env.do(t, http.MethodGet, "/orders?page=x", aliceKey, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodGet, "/orders?status=lost", aliceKey, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatistics(t *testing.T) {
	env := newTestEnv(t)
	o := env.placeOrder(t, aliceKey)

	status, _ := env.do(t, http.MethodGet, "/orders/stats", aliceKey, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodGet, "/orders/stats?top=3", adminKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["totalOrders"])
	assert.EqualValues(t, o["summary"].(map[string]any)["total"], body["totalRevenue"])
	byStatus := body["byStatus"].(map[string]any)
	assert.Len(t, byStatus, len(order.Statuses))
	assert.EqualValues(t, 1, byStatus["pending"].(map[string]any)["count"])
	top := body["topProducts"].([]any)
	require.Len(t, top, 1)
	assert.Equal(t, "A", top[0].(map[string]any)["productId"])

	status, _ = env.do(t, http.MethodGet, "/orders/stats?from=yesterday", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodGet, "/orders/stats?from=2025-02-01&to=2025-01-01", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
