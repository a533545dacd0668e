package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/storefront-backend/pkg/db/types"
)

// OrderItemAttributes carries display attributes frozen at checkout.
type OrderItemAttributes struct {
	Variant string `json:"variant,omitempty"`
}

// OrderItem is a frozen copy of a cart line. ProductID and VariantID are kept
// for restocking only; reads never join back to the catalog.
type OrderItem struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            uuid.UUID           `gorm:"column:order_id;type:uuid;not null"`
	ProductID          uuid.UUID           `gorm:"column:product_id;type:uuid;not null"`
	VariantID          *uuid.UUID          `gorm:"column:variant_id;type:uuid"`
	Name               string              `gorm:"column:name;not null"`
	SKU                string              `gorm:"column:sku;not null"`
	Price              decimal.Decimal     `gorm:"column:price;type:numeric(12,2);not null"`
	Quantity           int                 `gorm:"column:quantity;not null"`
	Subtotal           decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Image              *string             `gorm:"column:image"`
	Attributes         OrderItemAttributes `gorm:"column:attributes;type:jsonb;serializer:json"`
	WarrantyPackageIDs dbtypes.UUIDArray   `gorm:"column:warranty_package_ids;type:uuid[];not null;default:'{}'"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
