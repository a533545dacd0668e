package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	pkgAuth "github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

// stubCart embeds the interface so only the exercised methods need bodies.
type stubCart struct {
	cart.Service
	lastIdentity cart.Identity
}

func (s *stubCart) GetCart(_ context.Context, identity cart.Identity) (*cart.CartView, error) {
	s.lastIdentity = identity
	return &cart.CartView{Items: []cart.LineView{}, Subtotal: decimal.Zero}, nil
}

type stubOrders struct {
	orders.Service
	created int
}

func (s *stubOrders) CreateOrder(context.Context, uuid.UUID, orders.CreateOrderInput) (*orders.OrderView, error) {
	s.created++
	return &orders.OrderView{ID: uuid.New(), OrderNumber: "ORD-2610-00001"}, nil
}

func (s *stubOrders) ListForAccount(_ context.Context, _ uuid.UUID, params orders.ListParams) (*orders.OrderPage, error) {
	return &orders.OrderPage{Orders: []orders.OrderView{}, Meta: pagination.NewMeta(0, params.Params)}, nil
}

func (s *stubOrders) AdminList(_ context.Context, params orders.ListParams) (*orders.OrderPage, error) {
	return &orders.OrderPage{Orders: []orders.OrderView{}, Meta: pagination.NewMeta(0, params.Params)}, nil
}

type memoryStore struct {
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:       config.AppConfig{Env: "test", CORSOrigins: "http://localhost:3000"},
		JWT:       config.JWTConfig{Secret: "router-secret", Issuer: "storefront-test"},
		Cart:      config.CartConfig{CookieName: "sessionId", CookieTTL: time.Hour},
		RateLimit: config.RateLimitConfig{Window: time.Minute, CartLimit: 100, CheckoutLimit: 10},
	}
}

func newTestRouter(t *testing.T) (http.Handler, *stubCart, *stubOrders) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cartSvc := &stubCart{}
	orderSvc := &stubOrders{}
	h := NewRouter(RouterParams{
		Config:       testConfig(),
		DB:           stubPinger{},
		Redis:        stubPinger{},
		Idempotency:  &memoryStore{data: map[string]string{}},
		CartService:  cartSvc,
		OrderService: orderSvc,
		HTTPMetrics:  metrics.NewHTTPMetrics(reg),
		Gatherer:     reg,
	})
	return h, cartSvc, orderSvc
}

func bearer(t *testing.T, role enums.MemberRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testConfig().JWT, time.Now(), time.Hour, pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	h, _, _ := newTestRouter(t)

	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health/live", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health/ready", nil)).Code)

	serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	resp := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "http_requests_total")
}

func TestGuestCanReadCartWithSessionCookie(t *testing.T) {
	h, cartSvc, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: "sessionId", Value: "guest-abc"})
	resp := serve(h, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "guest-abc", cartSvc.lastIdentity.SessionID)
	assert.Nil(t, cartSvc.lastIdentity.AccountID)
}

func TestCartMergeRequiresAuthentication(t *testing.T) {
	h, _, _ := newTestRouter(t)
	resp := serve(h, httptest.NewRequest(http.MethodPost, "/api/v1/cart/merge", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestOrdersRequireAuthentication(t *testing.T) {
	h, _, _ := newTestRouter(t)
	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?page=1", nil)
	req.Header.Set("Authorization", bearer(t, enums.MemberRoleCustomer))
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestCreateOrderIsIdempotent(t *testing.T) {
	h, _, orderSvc := newTestRouter(t)
	token := bearer(t, enums.MemberRoleCustomer)
	payload := `{"shippingAddress":{"firstName":"Ana","lastName":"Lopez","address1":"1 Main","city":"Austin","state":"TX","zip":"73301","country":"US","phone":"555"},"paymentMethod":"cod"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(payload))
	req.Header.Set("Authorization", token)
	assert.Equal(t, http.StatusBadRequest, serve(h, req).Code, "missing Idempotency-Key")

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(payload))
		req.Header.Set("Authorization", token)
		req.Header.Set("Idempotency-Key", "checkout-1")
		assert.Equal(t, http.StatusCreated, serve(h, req).Code)
	}
	assert.Equal(t, 1, orderSvc.created)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	h, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/orders", nil)
	req.Header.Set("Authorization", bearer(t, enums.MemberRoleCustomer))
	assert.Equal(t, http.StatusForbidden, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/orders?status=pending", nil)
	req.Header.Set("Authorization", bearer(t, enums.MemberRoleAdmin))
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestCORSPreflightAllowsIdempotencyHeader(t *testing.T) {
	h, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	resp := serve(h, req)

	assert.Equal(t, "http://localhost:3000", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header().Get("Access-Control-Allow-Credentials"))
}
