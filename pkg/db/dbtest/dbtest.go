// Package dbtest opens throwaway SQLite databases carrying the storefront
// schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

var schema = []string{
	`CREATE TABLE users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'customer',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  sku TEXT NOT NULL,
  price TEXT NOT NULL,
  stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
  in_stock INTEGER NOT NULL DEFAULT 1,
  has_variants INTEGER NOT NULL DEFAULT 0,
  thumbnail TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE product_variants (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  sku TEXT NOT NULL,
  price TEXT NOT NULL,
  stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE warranty_packages (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  duration_months INTEGER NOT NULL,
  price TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  sort_order INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE carts (
  id TEXT PRIMARY KEY,
  user_id TEXT,
  session_id TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  updated_at DATETIME,
  CHECK ((user_id IS NOT NULL AND session_id IS NULL) OR (user_id IS NULL AND session_id IS NOT NULL))
);`,
	`CREATE UNIQUE INDEX ux_carts_active_user ON carts (user_id) WHERE status = 'active' AND user_id IS NOT NULL;`,
	`CREATE UNIQUE INDEX ux_carts_active_session ON carts (session_id) WHERE status = 'active' AND session_id IS NOT NULL;`,
	`CREATE TABLE cart_items (
  id TEXT PRIMARY KEY,
  cart_id TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
  product_id TEXT NOT NULL,
  variant_id TEXT,
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  price TEXT NOT NULL,
  warranty_key TEXT NOT NULL DEFAULT '',
  warranty_package_ids TEXT NOT NULL DEFAULT '{}',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_cart_items_line_key ON cart_items (cart_id, product_id, COALESCE(variant_id, ''), warranty_key);`,
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  number TEXT NOT NULL UNIQUE,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  payment_method TEXT NOT NULL,
  shipping_first_name TEXT NOT NULL,
  shipping_last_name TEXT NOT NULL,
  shipping_company TEXT NOT NULL DEFAULT '',
  shipping_address1 TEXT NOT NULL,
  shipping_address2 TEXT NOT NULL DEFAULT '',
  shipping_city TEXT NOT NULL,
  shipping_state TEXT NOT NULL,
  shipping_zip TEXT NOT NULL,
  shipping_country TEXT NOT NULL,
  shipping_phone TEXT NOT NULL,
  billing_first_name TEXT NOT NULL,
  billing_last_name TEXT NOT NULL,
  billing_company TEXT NOT NULL DEFAULT '',
  billing_address1 TEXT NOT NULL,
  billing_address2 TEXT NOT NULL DEFAULT '',
  billing_city TEXT NOT NULL,
  billing_state TEXT NOT NULL,
  billing_zip TEXT NOT NULL,
  billing_country TEXT NOT NULL,
  billing_phone TEXT NOT NULL,
  subtotal TEXT NOT NULL,
  tax TEXT NOT NULL,
  shipping_cost TEXT NOT NULL,
  discount TEXT NOT NULL,
  total TEXT NOT NULL,
  notes TEXT,
  stock_committed INTEGER NOT NULL DEFAULT 0,
  paid_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  product_id TEXT NOT NULL,
  variant_id TEXT,
  name TEXT NOT NULL,
  sku TEXT NOT NULL,
  price TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  subtotal TEXT NOT NULL,
  image TEXT,
  attributes TEXT NOT NULL DEFAULT '{}',
  warranty_package_ids TEXT NOT NULL DEFAULT '{}',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE order_number_sequences (
  period TEXT PRIMARY KEY,
  last_value INTEGER NOT NULL DEFAULT 0
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns a private in-memory database with the full schema applied.
// A single connection is used so every statement sees the same database.
// Query logging is discarded since lookups that miss are routine here.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:storefront_%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return conn
}

// MustCreateUser inserts a customer account.
func MustCreateUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{
		Email:     fmt.Sprintf("shopper_%s@example.com", uuid.NewString()),
		FirstName: "Test",
		LastName:  "Shopper",
		Role:      enums.MemberRoleCustomer,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// ProductOption tweaks a seeded product.
type ProductOption func(*models.Product)

// OutOfStock marks the product unsellable.
func OutOfStock() ProductOption {
	return func(p *models.Product) { p.InStock = false }
}

// WithVariants flags the product as carrying variants.
func WithVariants() ProductOption {
	return func(p *models.Product) { p.HasVariants = true }
}

// WithThumbnail sets the product image.
func WithThumbnail(url string) ProductOption {
	return func(p *models.Product) { p.Thumbnail = &url }
}

// MustCreateProduct inserts a sellable product with the given price and stock.
func MustCreateProduct(t *testing.T, db *gorm.DB, price string, stock int, opts ...ProductOption) *models.Product {
	t.Helper()
	product := &models.Product{
		Name:          "Product " + uuid.NewString()[:8],
		SKU:           "SKU-" + uuid.NewString()[:8],
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		InStock:       true,
		IsActive:      true,
	}
	for _, opt := range opts {
		opt(product)
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

// MustCreateVariant inserts a variant under productID.
func MustCreateVariant(t *testing.T, db *gorm.DB, productID uuid.UUID, name, price string, stock int) *models.ProductVariant {
	t.Helper()
	variant := &models.ProductVariant{
		ProductID:     productID,
		Name:          name,
		SKU:           "VAR-" + uuid.NewString()[:8],
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}
	if err := db.Create(variant).Error; err != nil {
		t.Fatalf("create variant: %v", err)
	}
	return variant
}

// MustCreateWarranty inserts a warranty package.
func MustCreateWarranty(t *testing.T, db *gorm.DB, price string, active bool) *models.WarrantyPackage {
	t.Helper()
	pkg := &models.WarrantyPackage{
		Name:           "Warranty " + uuid.NewString()[:8],
		DurationMonths: 12,
		Price:          decimal.RequireFromString(price),
		IsActive:       active,
	}
	if err := db.Create(pkg).Error; err != nil {
		t.Fatalf("create warranty: %v", err)
	}
	return pkg
}

// StockOf reads the current stock of a product or variant row.
func StockOf(t *testing.T, db *gorm.DB, table string, id uuid.UUID) int {
	t.Helper()
	var stock int
	if err := db.Table(table).Select("stock_quantity").Where("id = ?", id).Scan(&stock).Error; err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return stock
}
