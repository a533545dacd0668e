package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func newTestService(t *testing.T) (*service, *gorm.DB, *memoryCounts) {
	t.Helper()
	conn := dbtest.Open(t)
	counts := newMemoryCounts()
	oracle := catalog.NewOracle(catalog.NewRepository(conn), false)
	svc, err := NewService(NewRepository(conn), db.NewFromConn(conn), oracle, counts, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc.(*service), conn, counts
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) *pkgerrors.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != code {
		t.Fatalf("expected %s error, got %v", code, err)
	}
	return typed
}

func mustAdd(t *testing.T, svc *service, identity Identity, input AddItemInput) *Result {
	t.Helper()
	res, err := svc.AddItem(context.Background(), identity, input)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	return res
}

func countRows(t *testing.T, conn *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	if err := conn.Table(table).Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func lineFor(view *CartView, productID uuid.UUID, variantID *uuid.UUID) *LineView {
	for i := range view.Items {
		line := &view.Items[i]
		if line.ProductID != productID {
			continue
		}
		if (variantID == nil) != (line.VariantID == nil) {
			continue
		}
		if variantID != nil && *variantID != *line.VariantID {
			continue
		}
		return line
	}
	return nil
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewService(nil, stubTxRunner{}, stubOracle{}, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing repository")
	}
	if _, err := NewService(&Repository{}, nil, stubOracle{}, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing tx runner")
	}
	if _, err := NewService(&Repository{}, stubTxRunner{}, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing oracle")
	}
}

func TestAddItemIssuesSessionForAnonymousCaller(t *testing.T) {
	svc, conn, _ := newTestService(t)
	svc.newSessionID = func() string { return "sess-fixed" }
	product := dbtest.MustCreateProduct(t, conn, "100", 5)

	res := mustAdd(t, svc, Identity{}, AddItemInput{ProductID: product.ID, Quantity: 1})

	if res.Cookie == nil || res.Cookie.Action != CookieActionSet || res.Cookie.Value != "sess-fixed" {
		t.Fatalf("expected set cookie directive, got %+v", res.Cookie)
	}
	if res.Cart.TotalItems != 1 {
		t.Fatalf("expected 1 item, got %d", res.Cart.TotalItems)
	}

	var cart models.Cart
	if err := conn.First(&cart, "session_id = ?", "sess-fixed").Error; err != nil {
		t.Fatalf("expected session cart: %v", err)
	}
	if cart.UserID != nil {
		t.Fatalf("expected anonymous cart")
	}
}

func TestAddItemWithExistingSessionSetsNoCookie(t *testing.T) {
	svc, conn, _ := newTestService(t)
	product := dbtest.MustCreateProduct(t, conn, "100", 5)
	identity := SessionIdentity("sess-1")

	first := mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 1})
	second := mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 1})

	if first.Cookie != nil || second.Cookie != nil {
		t.Fatalf("expected no cookie directive for an existing session")
	}
	if *first.Cart.ID != *second.Cart.ID {
		t.Fatalf("expected the same cart across adds")
	}
	if n := countRows(t, conn, "carts"); n != 1 {
		t.Fatalf("expected a single cart row, got %d", n)
	}
}

func TestAddItemFoldsIntoExistingLine(t *testing.T) {
	svc, conn, _ := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)
	product := dbtest.MustCreateProduct(t, conn, "100", 10)
	w1 := dbtest.MustCreateWarranty(t, conn, "10", true)
	w2 := dbtest.MustCreateWarranty(t, conn, "5", true)
	identity := AccountIdentity(user.ID)

	mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 2, WarrantyPackageIDs: []uuid.UUID{w1.ID, w2.ID}})
	res := mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 3, WarrantyPackageIDs: []uuid.UUID{w2.ID, w1.ID, w2.ID}})

	if len(res.Cart.Items) != 1 {
		t.Fatalf("expected one line, got %d", len(res.Cart.Items))
	}
	if res.Cart.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", res.Cart.Items[0].Quantity)
	}
	if len(res.Cart.Items[0].Warranties) != 2 {
		t.Fatalf("expected two warranties on the line, got %d", len(res.Cart.Items[0].Warranties))
	}
}

func TestAddItemDifferentWarrantySetsAreSeparateLines(t *testing.T) {
	svc, conn, _ := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)
	product := dbtest.MustCreateProduct(t, conn, "100", 10)
	warranty := dbtest.MustCreateWarranty(t, conn, "10", true)
	identity := AccountIdentity(user.ID)

	mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 1})
	res := mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 1, WarrantyPackageIDs: []uuid.UUID{warranty.ID}})

	if len(res.Cart.Items) != 2 {
		t.Fatalf("expected two lines, got %d", len(res.Cart.Items))
	}
}

func TestAddItemRejectsQuantityAboveStock(t *testing.T) {
	svc, conn, _ := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)
	product := dbtest.MustCreateProduct(t, conn, "100", 5)
	identity := AccountIdentity(user.ID)

	mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 4})
	_, err := svc.AddItem(context.Background(), identity, AddItemInput{ProductID: product.ID, Quantity: 2})
	typed := requireCode(t, err, pkgerrors.CodeInsufficientStock)

	details, ok := typed.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", typed.Details())
	}
	if details["available"] != 5 || details["requested"] != 6 || details["inCart"] != 4 {
		t.Fatalf("unexpected details: %+v", details)
	}

	view, err := svc.GetCart(context.Background(), identity)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if view.TotalItems != 4 {
		t.Fatalf("expected cart unchanged at 4 units, got %d", view.TotalItems)
	}
}

func TestAddItemOutOfStockProduct(t *testing.T) {
	svc, conn, _ := newTestService(t)
	product := dbtest.MustCreateProduct(t, conn, "100", 5, dbtest.OutOfStock())

	_, err := svc.AddItem(context.Background(), SessionIdentity("sess-1"), AddItemInput{ProductID: product.ID, Quantity: 1})
	requireCode(t, err, pkgerrors.CodeOutOfStock)

	if n := countRows(t, conn, "carts"); n != 0 {
		t.Fatalf("expected the failed add to roll back the cart, got %d rows", n)
	}
}

func TestAddItemZeroStockIsInsufficient(t *testing.T) {
	svc, conn, _ := newTestService(t)
	product := dbtest.MustCreateProduct(t, conn, "100", 0)

	_, err := svc.AddItem(context.Background(), SessionIdentity("sess-1"), AddItemInput{ProductID: product.ID, Quantity: 1})
	requireCode(t, err, pkgerrors.CodeInsufficientStock)
}

func TestAddItemUnknownProduct(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.AddItem(context.Background(), SessionIdentity("sess-1"), AddItemInput{ProductID: uuid.New(), Quantity: 1})
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestAddItemRejectsInactiveWarranty(t *testing.T) {
	svc, conn, _ := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)
	product := dbtest.MustCreateProduct(t, conn, "100", 5)
	active := dbtest.MustCreateWarranty(t, conn, "10", true)
	inactive := dbtest.MustCreateWarranty(t, conn, "10", false)

	_, err := svc.AddItem(context.Background(), AccountIdentity(user.ID), AddItemInput{
		ProductID:          product.ID,
		Quantity:           1,
		WarrantyPackageIDs: []uuid.UUID{active.ID, inactive.ID},
	})
	requireCode(t, err, pkgerrors.CodeInvalidWarranty)

	if n := countRows(t, conn, "cart_items"); n != 0 {
		t.Fatalf("expected no lines, got %d", n)
	}
}

func TestAddItemValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.AddItem(context.Background(), SessionIdentity("sess-1"), AddItemInput{ProductID: uuid.New(), Quantity: 0})
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = svc.AddItem(context.Background(), SessionIdentity("sess-1"), AddItemInput{Quantity: 1})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestAddItemVariantStockScenario(t *testing.T) {
	svc, conn, _ := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)
	identity := AccountIdentity(user.ID)
	productA := dbtest.MustCreateProduct(t, conn, "100", 5)
	productC := dbtest.MustCreateProduct(t, conn, "0", 0, dbtest.WithVariants())
	variantB := dbtest.MustCreateVariant(t, conn, productC.ID, "Blue", "50", 1)

	mustAdd(t, svc, identity, AddItemInput{ProductID: productA.ID, Quantity: 1})
	mustAdd(t, svc, identity, AddItemInput{ProductID: productC.ID, VariantID: &variantB.ID, Quantity: 1})

	res := mustAdd(t, svc, identity, AddItemInput{ProductID: productA.ID, Quantity: 2})
	if line := lineFor(res.Cart, productA.ID, nil); line == nil || line.Quantity != 3 {
		t.Fatalf("expected product A at quantity 3, got %+v", line)
	}

	_, err := svc.AddItem(context.Background(), identity, AddItemInput{ProductID: productC.ID, VariantID: &variantB.ID, Quantity: 2})
	requireCode(t, err, pkgerrors.CodeInsufficientStock)

	view, err := svc.GetCart(context.Background(), identity)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if line := lineFor(view, productC.ID, &variantB.ID); line == nil || line.Quantity != 1 {
		t.Fatalf("expected variant B unchanged at 1, got %+v", line)
	}
	if line := lineFor(view, productA.ID, nil); line == nil || line.Quantity != 3 {
		t.Fatalf("expected product A unchanged at 3, got %+v", line)
	}
	if !view.Subtotal.Equal(decimal.RequireFromString("350")) {
		t.Fatalf("expected subtotal 350, got %s", view.Subtotal)
	}
}

func TestAddItemVariantShapeMismatch(t *testing.T) {
	svc, conn, _ := newTestService(t)
	product := dbtest.MustCreateProduct(t, conn, "0", 0, dbtest.WithVariants())

	_, err := svc.AddItem(context.Background(), SessionIdentity("sess-1"), AddItemInput{ProductID: product.ID, Quantity: 1})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestGetCartPricesAtCurrentCatalogPrice(t *testing.T) {
	svc, conn, _ := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)
	identity := AccountIdentity(user.ID)
	product := dbtest.MustCreateProduct(t, conn, "100", 10)
	warranty := dbtest.MustCreateWarranty(t, conn, "10", true)

	mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 2, WarrantyPackageIDs: []uuid.UUID{warranty.ID}})

	if err := conn.Model(&models.Product{}).Where("id = ?", product.ID).
		Update("price", decimal.RequireFromString("120")).Error; err != nil {
		t.Fatalf("update price: %v", err)
	}

	view, err := svc.GetCart(context.Background(), identity)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	line := view.Items[0]
	if !line.SnapshotPrice.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected snapshot 100, got %s", line.SnapshotPrice)
	}
	if !line.UnitPrice.Equal(decimal.RequireFromString("120")) {
		t.Fatalf("expected current price 120, got %s", line.UnitPrice)
	}

	expected := decimal.Zero
	for _, item := range view.Items {
		perUnit := item.UnitPrice
		for _, w := range item.Warranties {
			perUnit = perUnit.Add(w.Price)
		}
		expected = expected.Add(perUnit.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !view.Subtotal.Equal(expected) || !view.Subtotal.Equal(decimal.RequireFromString("260")) {
		t.Fatalf("expected subtotal 260, got %s", view.Subtotal)
	}
	if view.TotalItems != 2 {
		t.Fatalf("expected 2 items, got %d", view.TotalItems)
	}
}

func TestGetCartAnonymousWithoutSessionCreatesNothing(t *testing.T) {
	svc, conn, _ := newTestService(t)

	view, err := svc.GetCart(context.Background(), Identity{})
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if view.ID != nil || len(view.Items) != 0 || view.TotalItems != 0 {
		t.Fatalf("expected empty view, got %+v", view)
	}
	if n := countRows(t, conn, "carts"); n != 0 {
		t.Fatalf("expected no cart rows, got %d", n)
	}
}

func TestGetCartCreatesAccountCart(t *testing.T) {
	svc, conn, _ := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)

	first, err := svc.GetCart(context.Background(), AccountIdentity(user.ID))
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	second, err := svc.GetCart(context.Background(), AccountIdentity(user.ID))
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if first.ID == nil || second.ID == nil || *first.ID != *second.ID {
		t.Fatalf("expected a stable account cart")
	}
}

func TestUpdateItemQuantity(t *testing.T) {
	svc, conn, _ := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)
	identity := AccountIdentity(user.ID)
	product := dbtest.MustCreateProduct(t, conn, "100", 5)

	res := mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 1})
	itemID := res.Cart.Items[0].ID

	view, err := svc.UpdateItemQuantity(context.Background(), identity, itemID, 5)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if view.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", view.Items[0].Quantity)
	}

	_, err = svc.UpdateItemQuantity(context.Background(), identity, itemID, 6)
	requireCode(t, err, pkgerrors.CodeInsufficientStock)

	_, err = svc.UpdateItemQuantity(context.Background(), identity, itemID, 0)
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = svc.UpdateItemQuantity(context.Background(), identity, uuid.New(), 1)
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestUpdateItemQuantityRejectsOtherOwners(t *testing.T) {
	svc, conn, _ := newTestService(t)
	owner := dbtest.MustCreateUser(t, conn)
	other := dbtest.MustCreateUser(t, conn)
	product := dbtest.MustCreateProduct(t, conn, "100", 5)

	res := mustAdd(t, svc, AccountIdentity(owner.ID), AddItemInput{ProductID: product.ID, Quantity: 1})
	itemID := res.Cart.Items[0].ID

	_, err := svc.UpdateItemQuantity(context.Background(), AccountIdentity(other.ID), itemID, 2)
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = svc.UpdateItemQuantity(context.Background(), SessionIdentity("someone-else"), itemID, 2)
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = svc.RemoveItem(context.Background(), AccountIdentity(other.ID), itemID)
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestUpdateItemQuantityAllowsSessionOwner(t *testing.T) {
	svc, conn, _ := newTestService(t)
	product := dbtest.MustCreateProduct(t, conn, "100", 5)
	identity := SessionIdentity("sess-owner")

	res := mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 1})
	view, err := svc.UpdateItemQuantity(context.Background(), identity, res.Cart.Items[0].ID, 3)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if view.TotalItems != 3 {
		t.Fatalf("expected 3 items, got %d", view.TotalItems)
	}
}

func TestRemoveItemIsIdempotent(t *testing.T) {
	svc, conn, _ := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)
	identity := AccountIdentity(user.ID)
	productA := dbtest.MustCreateProduct(t, conn, "100", 5)
	productB := dbtest.MustCreateProduct(t, conn, "40", 5)

	mustAdd(t, svc, identity, AddItemInput{ProductID: productA.ID, Quantity: 1})
	res := mustAdd(t, svc, identity, AddItemInput{ProductID: productB.ID, Quantity: 2})
	itemID := lineFor(res.Cart, productB.ID, nil).ID

	view, err := svc.RemoveItem(context.Background(), identity, itemID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(view.Items) != 1 || view.TotalItems != 1 {
		t.Fatalf("expected one remaining line, got %+v", view)
	}

	again, err := svc.RemoveItem(context.Background(), identity, itemID)
	if err != nil {
		t.Fatalf("second remove should succeed: %v", err)
	}
	if len(again.Items) != 1 {
		t.Fatalf("expected the cart unchanged, got %d lines", len(again.Items))
	}
}

func TestClearCart(t *testing.T) {
	svc, conn, _ := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)
	identity := AccountIdentity(user.ID)
	product := dbtest.MustCreateProduct(t, conn, "100", 5)

	mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 2})
	view, err := svc.ClearCart(context.Background(), identity)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if view.ID == nil || len(view.Items) != 0 || !view.Subtotal.IsZero() {
		t.Fatalf("expected empty cart view, got %+v", view)
	}

	empty, err := svc.ClearCart(context.Background(), SessionIdentity("no-cart"))
	if err != nil {
		t.Fatalf("clear without cart: %v", err)
	}
	if empty.ID != nil {
		t.Fatalf("expected no cart for unknown session")
	}
}

func TestCountItemsServesFromCache(t *testing.T) {
	svc, conn, counts := newTestService(t)
	user := dbtest.MustCreateUser(t, conn)
	identity := AccountIdentity(user.ID)
	product := dbtest.MustCreateProduct(t, conn, "100", 10)

	if n, err := svc.CountItems(context.Background(), identity); err != nil || n != 0 {
		t.Fatalf("expected 0 before any add, got %d (%v)", n, err)
	}

	mustAdd(t, svc, identity, AddItemInput{ProductID: product.ID, Quantity: 3})
	if _, ok := counts.values["user:"+user.ID.String()]; ok {
		t.Fatalf("expected add to invalidate the cached count")
	}

	n, err := svc.CountItems(context.Background(), identity)
	if err != nil || n != 3 {
		t.Fatalf("expected 3, got %d (%v)", n, err)
	}
	counts.values["user:"+user.ID.String()] = 42
	n, err = svc.CountItems(context.Background(), identity)
	if err != nil || n != 42 {
		t.Fatalf("expected cached value 42, got %d (%v)", n, err)
	}
}

func TestCountItemsAnonymousWithoutSession(t *testing.T) {
	svc, _, counts := newTestService(t)

	n, err := svc.CountItems(context.Background(), Identity{})
	if err != nil || n != 0 {
		t.Fatalf("expected 0, got %d (%v)", n, err)
	}
	if counts.gets != 0 {
		t.Fatalf("expected no cache traffic for an empty identity")
	}
}

type memoryCounts struct {
	mu     sync.Mutex
	values map[string]int
	gets   int
}

func newMemoryCounts() *memoryCounts {
	return &memoryCounts{values: map[string]int{}}
}

func (m *memoryCounts) Get(_ context.Context, key string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryCounts) Set(_ context.Context, key string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = count
	return nil
}

func (m *memoryCounts) Invalidate(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubOracle struct {
	StockOracle
}
