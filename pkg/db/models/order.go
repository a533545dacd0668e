package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Order is the immutable record produced from a cart at checkout. Only the
// status fields, timestamps and StockCommitted change after creation.
type Order struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Number         string              `gorm:"column:number;not null;uniqueIndex"`
	UserID         uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	Status         enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus  enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	PaymentMethod  enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	Shipping       types.Address       `gorm:"embedded;embeddedPrefix:shipping_"`
	Billing        types.Address       `gorm:"embedded;embeddedPrefix:billing_"`
	Subtotal       decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Tax            decimal.Decimal     `gorm:"column:tax;type:numeric(12,2);not null"`
	ShippingCost   decimal.Decimal     `gorm:"column:shipping_cost;type:numeric(12,2);not null"`
	Discount       decimal.Decimal     `gorm:"column:discount;type:numeric(12,2);not null"`
	Total          decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null"`
	Notes          *string             `gorm:"column:notes"`
	StockCommitted bool                `gorm:"column:stock_committed;not null;default:false"`
	PaidAt         *time.Time          `gorm:"column:paid_at"`
	CancelledAt    *time.Time          `gorm:"column:cancelled_at"`
	Items          []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
