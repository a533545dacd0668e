package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// CreateOrderInput carries the checkout form. Billing defaults to Shipping.
type CreateOrderInput struct {
	Shipping      types.Address       `json:"shippingAddress" validate:"required"`
	Billing       *types.Address      `json:"billingAddress,omitempty"`
	PaymentMethod enums.PaymentMethod `json:"paymentMethod" validate:"required"`
	Notes         *string             `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// ItemView is a frozen order line as returned to clients.
type ItemView struct {
	ID                 uuid.UUID                  `json:"id"`
	ProductID          uuid.UUID                  `json:"productId"`
	VariantID          *uuid.UUID                 `json:"variantId,omitempty"`
	Name               string                     `json:"name"`
	SKU                string                     `json:"sku"`
	Price              decimal.Decimal            `json:"price"`
	Quantity           int                        `json:"quantity"`
	Subtotal           decimal.Decimal            `json:"subtotal"`
	Image              *string                    `json:"image,omitempty"`
	Attributes         models.OrderItemAttributes `json:"attributes"`
	WarrantyPackageIDs []uuid.UUID                `json:"warrantyPackageIds"`
}

// OrderView is the read model of an order.
type OrderView struct {
	ID             uuid.UUID           `json:"id"`
	OrderNumber    string              `json:"orderNumber"`
	UserID         uuid.UUID           `json:"userId"`
	Status         enums.OrderStatus   `json:"status"`
	PaymentStatus  enums.PaymentStatus `json:"paymentStatus"`
	PaymentMethod  enums.PaymentMethod `json:"paymentMethod"`
	Shipping       types.Address       `json:"shippingAddress"`
	Billing        types.Address       `json:"billingAddress"`
	Items          []ItemView          `json:"items"`
	Subtotal       decimal.Decimal     `json:"subtotal"`
	Tax            decimal.Decimal     `json:"tax"`
	ShippingCost   decimal.Decimal     `json:"shippingCost"`
	Discount       decimal.Decimal     `json:"discount"`
	Total          decimal.Decimal     `json:"total"`
	Notes          *string             `json:"notes,omitempty"`
	StockCommitted bool                `json:"stockCommitted"`
	PaidAt         *time.Time          `json:"paidAt,omitempty"`
	CancelledAt    *time.Time          `json:"cancelledAt,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// OrderPage is one page of a listing.
type OrderPage struct {
	Orders []OrderView `json:"orders"`
	pagination.Meta
}

// ListParams narrows a listing. Status is honored by the admin listing only.
type ListParams struct {
	pagination.Params
	Status *enums.OrderStatus
}

// RepayResult is the reopened order plus where the shopper should pay.
type RepayResult struct {
	Order      *OrderView `json:"order"`
	PaymentURL string     `json:"paymentUrl"`
}

// PaymentOutcome is the result reported by a payment confirmation.
type PaymentOutcome string

const (
	PaymentOutcomePaid   PaymentOutcome = "paid"
	PaymentOutcomeFailed PaymentOutcome = "failed"
)

// ConfirmPaymentInput is the opaque payment-confirmation event.
type ConfirmPaymentInput struct {
	OrderID uuid.UUID
	Outcome PaymentOutcome
	Reason  string
	ActorID uuid.UUID
}

// StatusUpdateInput is an admin status transition.
type StatusUpdateInput struct {
	OrderID uuid.UUID
	Status  enums.OrderStatus
	ActorID uuid.UUID
}

func toView(order *models.Order) *OrderView {
	view := &OrderView{
		ID:             order.ID,
		OrderNumber:    order.Number,
		UserID:         order.UserID,
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		PaymentMethod:  order.PaymentMethod,
		Shipping:       order.Shipping,
		Billing:        order.Billing,
		Items:          make([]ItemView, 0, len(order.Items)),
		Subtotal:       order.Subtotal,
		Tax:            order.Tax,
		ShippingCost:   order.ShippingCost,
		Discount:       order.Discount,
		Total:          order.Total,
		Notes:          order.Notes,
		StockCommitted: order.StockCommitted,
		PaidAt:         order.PaidAt,
		CancelledAt:    order.CancelledAt,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	for _, item := range order.Items {
		warranties := []uuid.UUID(item.WarrantyPackageIDs)
		if warranties == nil {
			warranties = []uuid.UUID{}
		}
		view.Items = append(view.Items, ItemView{
			ID:                 item.ID,
			ProductID:          item.ProductID,
			VariantID:          item.VariantID,
			Name:               item.Name,
			SKU:                item.SKU,
			Price:              item.Price,
			Quantity:           item.Quantity,
			Subtotal:           item.Subtotal,
			Image:              item.Image,
			Attributes:         item.Attributes,
			WarrantyPackageIDs: warranties,
		})
	}
	return view
}

func itemCount(order *models.Order) int {
	total := 0
	for _, item := range order.Items {
		total += item.Quantity
	}
	return total
}
