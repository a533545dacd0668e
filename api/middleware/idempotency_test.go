package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// mapStore keeps idempotency records in memory; failSetNX simulates Redis
// being down.
type mapStore struct {
	data      map[string]string
	failSetNX error
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string]string)}
}

func (m *mapStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *mapStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

func (m *mapStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if m.failSetNX != nil {
		return false, m.failSetNX
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *mapStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *mapStore) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

// countingHandler answers with status and a fixed JSON body.
type countingHandler struct {
	status int
	calls  int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(h.status)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

type call struct {
	method, path, key, body, user string
}

func (c call) send(t *testing.T, h http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	method := c.method
	if method == "" {
		method = http.MethodPost
	}
	req := httptest.NewRequest(method, c.path, strings.NewReader(c.body))
	if c.key != "" {
		req.Header.Set(IdempotencyHeader, c.key)
	}
	if c.user != "" {
		req = req.WithContext(WithUserID(req.Context(), c.user))
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestGuardedTTL(t *testing.T) {
	cases := []struct {
		method, path string
		want         time.Duration
		ok           bool
	}{
		{http.MethodPost, "/api/v1/orders", checkoutTTL, true},
		{http.MethodPost, "/api/v1/orders/456/cancel", checkoutTTL, true},
		{http.MethodPost, "/api/v1/orders/456/repay", checkoutTTL, true},
		{http.MethodPost, "/api/admin/v1/orders/abc/payment", orderMutationTTL, true},
		{http.MethodPatch, "/api/admin/v1/orders/abc/status", orderMutationTTL, true},
		{http.MethodPost, "/api/v1/orders//cancel", 0, false},
		{http.MethodPost, "/api/v1/orders/1/2/cancel", 0, false},
		{http.MethodGet, "/api/v1/orders", 0, false},
		{http.MethodPatch, "/api/admin/v1/orders/abc/payment", 0, false},
		{http.MethodPost, "/api/v1/cart", 0, false},
	}
	for _, tc := range cases {
		ttl, ok := guardedTTL(tc.method, tc.path)
		assert.Equal(t, tc.ok, ok, "%s %s", tc.method, tc.path)
		assert.Equal(t, tc.want, ttl, "%s %s", tc.method, tc.path)
	}
}

func TestIdempotencyPassesUnguardedRoutes(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	resp := call{path: "/api/v1/cart", body: `{}`}.send(t, Idempotency(newMapStore(), nil)(next))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, next.calls)
}

func TestIdempotencyValidatesHeader(t *testing.T) {
	for name, key := range map[string]string{
		"missing":  "",
		"too long": strings.Repeat("k", maxIdempotencyKeyLen+1),
	} {
		next := &countingHandler{status: http.StatusCreated}
		resp := call{path: "/api/v1/orders", key: key, body: `{}`}.send(t, Idempotency(newMapStore(), nil)(next))

		assert.Equal(t, http.StatusBadRequest, resp.Code, name)
		assert.Zero(t, next.calls, name)
	}
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	h := Idempotency(newMapStore(), nil)(next)
	checkout := call{path: "/api/v1/orders", key: "abc", body: `{"paymentMethod":"cod"}`, user: "user-a"}

	first := checkout.send(t, h)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(ReplayedHeader))

	again := checkout.send(t, h)
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "application/json", again.Header().Get("Content-Type"))
	assert.Equal(t, "true", again.Header().Get(ReplayedHeader))
	assert.Equal(t, `{"ok":true}`, again.Body.String())
	assert.Equal(t, 1, next.calls)
}

func TestIdempotencyReplaysClientErrors(t *testing.T) {
	next := &countingHandler{status: http.StatusUnprocessableEntity}
	h := Idempotency(newMapStore(), nil)(next)
	cancel := call{path: "/api/v1/orders/1/cancel", key: "k", user: "user-a"}

	cancel.send(t, h)
	resp := cancel.send(t, h)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, 1, next.calls)
}

func TestIdempotencyRejectsDuplicateWhileInFlight(t *testing.T) {
	store := newMapStore()
	order := call{path: "/api/v1/orders", key: "busy", body: `{"paymentMethod":"cod"}`}

	var duplicate *httptest.ResponseRecorder
	first := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		duplicate = order.send(t, Idempotency(store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Error("duplicate reached the handler")
		})))
		w.WriteHeader(http.StatusCreated)
	})

	resp := order.send(t, Idempotency(store, nil)(first))
	assert.Equal(t, http.StatusCreated, resp.Code)
	require.NotNil(t, duplicate)
	assert.Equal(t, http.StatusConflict, duplicate.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, duplicate))
}

func TestIdempotencyScopesKeysPerCaller(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	h := Idempotency(newMapStore(), nil)(next)

	for _, user := range []string{"user-a", "user-b"} {
		call{path: "/api/v1/orders", key: "same", body: `{}`, user: user}.send(t, h)
	}
	assert.Equal(t, 2, next.calls)
}

func TestIdempotencyReleasesKeyAfterServerError(t *testing.T) {
	store := newMapStore()
	next := &countingHandler{status: http.StatusInternalServerError}
	h := Idempotency(store, nil)(next)

	for range 2 {
		call{path: "/api/v1/orders/1/cancel", key: "retry", body: `{}`}.send(t, h)
	}
	assert.Equal(t, 2, next.calls)
	assert.Empty(t, store.data)
}

func TestIdempotencyRejectsKeyReuseWithNewBody(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	h := Idempotency(newMapStore(), nil)(next)

	call{path: "/api/v1/orders", key: "xyz", body: `{"paymentMethod":"cod"}`}.send(t, h)
	resp := call{path: "/api/v1/orders", key: "xyz", body: `{"paymentMethod":"card"}`}.send(t, h)

	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, resp))
	assert.Equal(t, 1, next.calls)
}

func TestIdempotencyFailsClosedWhenStoreIsDown(t *testing.T) {
	store := newMapStore()
	store.failSetNX = errors.New("connection refused")
	next := &countingHandler{status: http.StatusCreated}

	resp := call{path: "/api/v1/orders", key: "k", body: `{}`}.send(t, Idempotency(store, nil)(next))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Zero(t, next.calls)
}
