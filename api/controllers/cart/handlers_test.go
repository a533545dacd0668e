package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

var testSettings = Settings{CookieName: "sessionId", CookieTTL: 30 * 24 * time.Hour, CookieSecure: true, MaxSyncItems: 2}

type fakeCartService struct {
	identity cartsvc.Identity
	added    cartsvc.AddItemInput
	updated  int
	synced   []cartsvc.SyncItemInput
	cookie   *cartsvc.CookieDirective
	err      error
}

func (f *fakeCartService) view() *cartsvc.CartView {
	id := uuid.New()
	return &cartsvc.CartView{ID: &id, Items: []cartsvc.LineView{}, TotalItems: 2, Subtotal: decimal.NewFromInt(20)}
}

func (f *fakeCartService) GetCart(_ context.Context, identity cartsvc.Identity) (*cartsvc.CartView, error) {
	f.identity = identity
	return f.view(), f.err
}

func (f *fakeCartService) CountItems(_ context.Context, identity cartsvc.Identity) (int, error) {
	f.identity = identity
	return 7, f.err
}

func (f *fakeCartService) AddItem(_ context.Context, identity cartsvc.Identity, input cartsvc.AddItemInput) (*cartsvc.Result, error) {
	f.identity = identity
	f.added = input
	if f.err != nil {
		return nil, f.err
	}
	return &cartsvc.Result{Cart: f.view(), Cookie: f.cookie}, nil
}

func (f *fakeCartService) UpdateItemQuantity(_ context.Context, identity cartsvc.Identity, _ uuid.UUID, quantity int) (*cartsvc.CartView, error) {
	f.identity = identity
	f.updated = quantity
	return f.view(), f.err
}

func (f *fakeCartService) RemoveItem(_ context.Context, identity cartsvc.Identity, _ uuid.UUID) (*cartsvc.CartView, error) {
	f.identity = identity
	return f.view(), f.err
}

func (f *fakeCartService) ClearCart(_ context.Context, identity cartsvc.Identity) (*cartsvc.CartView, error) {
	f.identity = identity
	return f.view(), f.err
}

func (f *fakeCartService) MergeGuestCart(_ context.Context, identity cartsvc.Identity) (*cartsvc.Result, error) {
	f.identity = identity
	if f.err != nil {
		return nil, f.err
	}
	return &cartsvc.Result{Cart: f.view(), Cookie: f.cookie}, nil
}

func (f *fakeCartService) SyncFromClientState(_ context.Context, identity cartsvc.Identity, items []cartsvc.SyncItemInput) (*cartsvc.SyncResult, error) {
	f.identity = identity
	f.synced = items
	if f.err != nil {
		return nil, f.err
	}
	return &cartsvc.SyncResult{Cart: f.view(), Skipped: []cartsvc.SkippedItem{}}, nil
}

func withItemID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("itemId", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func findCookie(resp *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range resp.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAddItemSetsSessionCookieForNewGuest(t *testing.T) {
	svc := &fakeCartService{cookie: &cartsvc.CookieDirective{Action: cartsvc.CookieActionSet, Value: "sess-1"}}
	productID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart", jsonBody(t, map[string]any{
		"productId": productID,
		"quantity":  2,
	}))
	resp := httptest.NewRecorder()
	AddItem(svc, testSettings, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, productID, svc.added.ProductID)
	assert.Equal(t, 2, svc.added.Quantity)
	assert.True(t, svc.identity.IsZero())

	cookie := findCookie(resp, "sessionId")
	require.NotNil(t, cookie)
	assert.Equal(t, "sess-1", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, int((30 * 24 * time.Hour).Seconds()), cookie.MaxAge)
}

func TestAddItemRejectsInvalidQuantity(t *testing.T) {
	svc := &fakeCartService{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart", jsonBody(t, map[string]any{
		"productId": uuid.New(),
		"quantity":  0,
	}))
	resp := httptest.NewRecorder()
	AddItem(svc, testSettings, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, uuid.Nil, svc.added.ProductID)
}

func TestGetCartResolvesAccountAndSession(t *testing.T) {
	svc := &fakeCartService{}
	userID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: "sessionId", Value: "guest-123"})
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	resp := httptest.NewRecorder()
	GetCart(svc, testSettings, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, svc.identity.AccountID)
	assert.Equal(t, userID, *svc.identity.AccountID)
	assert.Equal(t, "guest-123", svc.identity.SessionID)
	assert.Nil(t, findCookie(resp, "sessionId"))
}

func TestCountItemsWrapsCount(t *testing.T) {
	svc := &fakeCartService{}
	resp := httptest.NewRecorder()
	CountItems(svc, testSettings, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/cart/count", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Data countResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 7, body.Data.Count)
}

func TestUpdateItemValidatesPathAndBody(t *testing.T) {
	svc := &fakeCartService{}

	req := withItemID(httptest.NewRequest(http.MethodPut, "/api/v1/cart/items/x", jsonBody(t, map[string]any{"quantity": 3})), "x")
	resp := httptest.NewRecorder()
	UpdateItem(svc, testSettings, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	itemID := uuid.NewString()
	req = withItemID(httptest.NewRequest(http.MethodPut, "/api/v1/cart/items/"+itemID, jsonBody(t, map[string]any{"quantity": 3})), itemID)
	resp = httptest.NewRecorder()
	UpdateItem(svc, testSettings, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 3, svc.updated)
}

func TestRemoveItemPropagatesForbidden(t *testing.T) {
	svc := &fakeCartService{err: pkgerrors.New(pkgerrors.CodeForbidden, "not your cart")}
	itemID := uuid.NewString()
	req := withItemID(httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/"+itemID, nil), itemID)
	resp := httptest.NewRecorder()
	RemoveItem(svc, testSettings, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestMergeCartClearsCookie(t *testing.T) {
	svc := &fakeCartService{cookie: &cartsvc.CookieDirective{Action: cartsvc.CookieActionClear}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/merge", nil)
	req.AddCookie(&http.Cookie{Name: "sessionId", Value: "guest-123"})
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	resp := httptest.NewRecorder()
	MergeCart(svc, testSettings, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	cookie := findCookie(resp, "sessionId")
	require.NotNil(t, cookie)
	assert.Equal(t, "", cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestSyncCartEnforcesItemLimit(t *testing.T) {
	svc := &fakeCartService{}
	items := []map[string]any{
		{"productId": uuid.New(), "quantity": 1},
		{"productId": uuid.New(), "quantity": 1},
		{"productId": uuid.New(), "quantity": 1},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/sync", jsonBody(t, map[string]any{"items": items}))
	resp := httptest.NewRecorder()
	SyncCart(svc, testSettings, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Nil(t, svc.synced)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/cart/sync", jsonBody(t, map[string]any{"items": items[:2]}))
	resp = httptest.NewRecorder()
	SyncCart(svc, testSettings, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, svc.synced, 2)
}

func TestSettingsDefaultCookieName(t *testing.T) {
	assert.Equal(t, "sessionId", Settings{}.name())
}
