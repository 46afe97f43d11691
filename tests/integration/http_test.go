//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	appkg "github.com/xenking/storefront/internal/app"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const (
	testPepper   = "integration-pepper"
	testAdminKey = "integration-admin-key"
)

// Response types are defined locally to keep the HTTP tests black-box.

type cartResponse struct {
	UserID string `json:"userId"`
	Items  []struct {
		ProductID string  `json:"productId"`
		Quantity  int     `json:"quantity"`
		UnitPrice float64 `json:"unitPrice"`
	} `json:"items"`
	Subtotal float64 `json:"subtotal"`
}

type orderResponse struct {
	ID             string  `json:"id"`
	UserID         string  `json:"userId"`
	CouponCode     string  `json:"couponCode"`
	Subtotal       float64 `json:"subtotal"`
	ShippingFee    float64 `json:"shippingFee"`
	Discount       float64 `json:"discount"`
	Total          float64 `json:"total"`
	Status         string  `json:"status"`
	TrackingNumber string  `json:"trackingNumber"`
	Carrier        string  `json:"carrier"`
	StatusHistory  []struct {
		Status string `json:"status"`
	} `json:"statusHistory"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type snapshotResponse struct {
	Date         string  `json:"date"`
	TotalOrders  int     `json:"totalOrders"`
	TotalRevenue float64 `json:"totalRevenue"`
}

func newHTTPServer(t *testing.T, maxRequests int) *httptest.Server {
	t.Helper()
	svc := newServices(t)

	require.NoError(t, postgres.NewAPIKeyRepository(pool).Upsert(context.Background(), auth.APIKeyInfo{
		ID:      "ops",
		KeyHash: auth.HashKey([]byte(testPepper), testAdminKey),
		Name:    "ops",
		Scopes:  []string{auth.ScopeAdmin},
	}))

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", time.Second, health.PingCheck(pool))
	healthSvc.SetReady(true)

	h := handler.NewHandler(
		handler.Config{ImageBaseURL: "https://cdn.test/"},
		postgres.NewProductRepository(pool), svc.carts, svc.checkout, svc.orders, svc.coupons, svc.analytics,
	)
	srv := httptest.NewServer(appkg.NewHTTPHandler(appkg.HTTPDeps{
		Handler:        h,
		Security:       handler.NewSecurity(postgres.NewAPIKeyRepository(pool), []byte(testPepper), auth.ScopeAdmin),
		Health:         healthSvc,
		Limiter:        httpmiddleware.NewRedisLimiter(rdb, maxRequests, time.Minute),
		RateLimit:      appkg.RateLimitConfig{Max: maxRequests, Window: time.Minute},
		Logger:         zaptest.NewLogger(t),
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any, header ...string) *http.Response {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out), "%s %s", method, path)
	}
	return resp
}

var testAddress = map[string]string{
	"name": "Ada", "street": "1 Loop Rd", "city": "London", "postalCode": "N1", "country": "GB",
}

func TestHTTP_ShoppingFlow(t *testing.T) {
	reset(t)
	srv := newHTTPServer(t, 1000)
	seedUser(t, "u1", time.Now())
	seedProduct(t, "p1", "12.50", 10, "books")
	seedProduct(t, "p2", "20.00", 2, "toys")
	seedCoupon(t, coupon.Coupon{Code: "SHIPFREE", Type: coupon.TypeFreeShipping, Description: "Free shipping"})

	var c cartResponse
	resp := call(t, srv, http.MethodPost, "/user/u1/cart", map[string]any{"action": "add", "productId": "p1", "quantity": 2}, &c)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(httpmiddleware.RequestIDHeader))
	require.Len(t, c.Items, 1)
	assert.InDelta(t, 25.0, c.Subtotal, 0.001)

	resp = call(t, srv, http.MethodPost, "/user/u1/cart", map[string]any{"action": "add", "productId": "p2"}, &c)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 45.0, c.Subtotal, 0.001)

	resp = call(t, srv, http.MethodPost, "/user/u1/cart", map[string]any{"action": "update", "productId": "p9", "quantity": 3}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no such line")

	resp = call(t, srv, http.MethodGet, "/user/u1/cart", nil, &c)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, c.Items, 2)

	var o orderResponse
	resp = call(t, srv, http.MethodPost, "/user/u1/checkout", map[string]any{
		"shippingAddress": testAddress,
		"paymentMethod":   "card",
		"discountCode":    "shipfree",
	}, &o)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", o.Status)
	assert.Equal(t, "SHIPFREE", o.CouponCode)
	assert.InDelta(t, 45.0, o.Subtotal, 0.001)
	assert.Zero(t, o.ShippingFee, "below the free shipping threshold, waived by the coupon")
	assert.InDelta(t, 45.0, o.Total, 0.001)

	var orders []orderResponse
	resp = call(t, srv, http.MethodGet, "/user/u1/orders", nil, &orders)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, orders, 1)
	assert.Equal(t, o.ID, orders[0].ID)

	// Admin moves it along.
	for _, status := range []string{"processing", "shipped"} {
		resp = call(t, srv, http.MethodPut, "/admin/order/"+o.ID+"/status", map[string]any{"status": status}, &o, handler.APIKeyHeader, testAdminKey)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, "shipped", o.Status)
	assert.NotEmpty(t, o.TrackingNumber)
	assert.Equal(t, "ACME Freight", o.Carrier)
	assert.Len(t, o.StatusHistory, 3)

	var apiErr errorResponse
	resp = call(t, srv, http.MethodPost, "/user/u1/order/"+o.ID+"/cancel", nil, &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "conflict", apiErr.Kind)

	resp = call(t, srv, http.MethodPost, "/admin/analytics/run", nil, nil, handler.APIKeyHeader, testAdminKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTP_AnalyticsRunForToday(t *testing.T) {
	reset(t)
	srv := newHTTPServer(t, 1000)
	seedUser(t, "u1", time.Now())
	seedProduct(t, "p1", "100.00", 10, "books")

	call(t, srv, http.MethodPost, "/user/u1/cart", map[string]any{"action": "add", "productId": "p1"}, nil)
	resp := call(t, srv, http.MethodPost, "/user/u1/checkout", map[string]any{"shippingAddress": testAddress, "paymentMethod": "card"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	today := time.Now().UTC().Format(time.DateOnly)
	var s snapshotResponse
	resp = call(t, srv, http.MethodPost, "/admin/analytics/run?date="+today, nil, &s, handler.APIKeyHeader, testAdminKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, today, s.Date)
	assert.Equal(t, 1, s.TotalOrders)
	assert.InDelta(t, 100.0, s.TotalRevenue, 0.001)

	var report []snapshotResponse
	resp = call(t, srv, http.MethodGet, "/admin/analytics?period=week", nil, &report, handler.APIKeyHeader, testAdminKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, report, 1)

	resp = call(t, srv, http.MethodGet, "/admin/analytics?period=year", nil, nil, handler.APIKeyHeader, testAdminKey)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_Errors(t *testing.T) {
	reset(t)
	srv := newHTTPServer(t, 1000)
	seedUser(t, "u1", time.Now())
	seedProduct(t, "p1", "1.00", 1, "books")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		header []string
		want   int
	}{
		{name: "UnknownUser", method: http.MethodGet, path: "/user/ghost/cart", want: http.StatusNotFound},
		{name: "UnknownProduct", method: http.MethodPost, path: "/user/u1/cart", body: map[string]any{"action": "add", "productId": "nope"}, want: http.StatusNotFound},
		{name: "EmptyCartCheckout", method: http.MethodPost, path: "/user/u1/checkout", body: map[string]any{"shippingAddress": testAddress, "paymentMethod": "card"}, want: http.StatusBadRequest},
		{name: "UnknownOrder", method: http.MethodGet, path: "/user/u1/order/missing", want: http.StatusNotFound},
		{name: "AdminNoKey", method: http.MethodGet, path: "/admin/analytics", want: http.StatusUnauthorized},
		{name: "AdminBadKey", method: http.MethodGet, path: "/admin/analytics", header: []string{handler.APIKeyHeader, "wrong"}, want: http.StatusUnauthorized},
		{name: "AdminBadStatus", method: http.MethodPut, path: "/admin/order/missing/status", body: map[string]any{"status": "lost"}, header: []string{handler.APIKeyHeader, testAdminKey}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr errorResponse
			resp := call(t, srv, tt.method, tt.path, tt.body, &apiErr, tt.header...)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.want, apiErr.Code)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestHTTP_Probes(t *testing.T) {
	reset(t)
	srv := newHTTPServer(t, 1000)

	for _, path := range []string{"/livez", "/readyz"} {
		var body struct {
			Status string `json:"status"`
		}
		resp := call(t, srv, http.MethodGet, path, nil, &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "ok", body.Status, path)
	}
}

func TestHTTP_RateLimitSharedThroughRedis(t *testing.T) {
	reset(t)
	seedUser(t, "u1", time.Now())
	// Two replicas share the limiter state.
	first := newHTTPServer(t, 3)
	second := newHTTPServer(t, 3)

	for _, srv := range []*httptest.Server{first, second, first} {
		resp := call(t, srv, http.MethodGet, "/user/u1/cart", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	var apiErr errorResponse
	resp := call(t, second, http.MethodGet, "/user/u1/cart", nil, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Code)
}

func TestHTTP_DecimalPrecision(t *testing.T) {
	reset(t)
	srv := newHTTPServer(t, 1000)
	seedUser(t, "u1", time.Now())
	seedProduct(t, "p1", "0.10", 100, "misc")

	call(t, srv, http.MethodPost, "/user/u1/cart", map[string]any{"action": "add", "productId": "p1", "quantity": 3}, nil)
	var o orderResponse
	resp := call(t, srv, http.MethodPost, "/user/u1/checkout", map[string]any{"shippingAddress": testAddress, "paymentMethod": "card"}, &o)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	stored, err := postgres.NewOrderRepository(pool).GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, stored.Subtotal.Equal(decimal.RequireFromString("0.30")))
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("6.29")))
}
