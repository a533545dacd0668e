package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a catalog entry. When HasVariants is set, stock and price live on
// the variants and the product row only carries the display data.
type Product struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string           `gorm:"column:name;not null"`
	SKU           string           `gorm:"column:sku;not null"`
	Price         decimal.Decimal  `gorm:"column:price;type:numeric(12,2);not null"`
	StockQuantity int              `gorm:"column:stock_quantity;not null;default:0"`
	InStock       bool             `gorm:"column:in_stock;not null"`
	HasVariants   bool             `gorm:"column:has_variants;not null;default:false"`
	Thumbnail     *string          `gorm:"column:thumbnail"`
	IsActive      bool             `gorm:"column:is_active;not null"`
	Variants      []ProductVariant `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
