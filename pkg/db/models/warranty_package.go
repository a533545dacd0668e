package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WarrantyPackage is an optional add-on priced per unit of the cart line it is
// attached to.
type WarrantyPackage struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name           string          `gorm:"column:name;not null"`
	Description    *string         `gorm:"column:description"`
	DurationMonths int             `gorm:"column:duration_months;not null"`
	Price          decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	IsActive       bool            `gorm:"column:is_active;not null"`
	SortOrder      int             `gorm:"column:sort_order;not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *WarrantyPackage) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
