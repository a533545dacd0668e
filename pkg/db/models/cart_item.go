package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/storefront-backend/pkg/db/types"
)

// CartItem is one line of a cart. Lines are unique per cart on
// (product, variant, warranty set); WarrantyKey holds the canonical form of
// the set so the uniqueness check is order-insensitive.
type CartItem struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CartID             uuid.UUID         `gorm:"column:cart_id;type:uuid;not null"`
	ProductID          uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	VariantID          *uuid.UUID        `gorm:"column:variant_id;type:uuid"`
	Quantity           int               `gorm:"column:quantity;not null"`
	Price              decimal.Decimal   `gorm:"column:price;type:numeric(12,2);not null"`
	WarrantyKey        string            `gorm:"column:warranty_key;not null;default:''"`
	WarrantyPackageIDs dbtypes.UUIDArray `gorm:"column:warranty_package_ids;type:uuid[];not null;default:'{}'"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	i.WarrantyPackageIDs = i.WarrantyPackageIDs.Canonical()
	i.WarrantyKey = i.WarrantyPackageIDs.Key()
	return nil
}
