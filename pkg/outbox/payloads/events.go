// Package payloads holds the JSON bodies carried in outbox envelopes. Field
// names are part of the wire contract with the notification and analytics
// consumers.
package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderSnapshot is the order state every order event carries.
type OrderSnapshot struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	UserID        uuid.UUID           `json:"user_id"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Total         decimal.Decimal     `json:"total"`
	ItemCount     int                 `json:"item_count"`
}

// OrderCreatedEvent is emitted once per successful checkout.
type OrderCreatedEvent struct {
	OrderSnapshot
	Subtotal decimal.Decimal `json:"subtotal"`
}

// OrderCanceledEvent is emitted when a shopper or an admin cancels an order.
type OrderCanceledEvent struct {
	OrderSnapshot
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	Restocked      bool              `json:"restocked"`
	CanceledAt     time.Time         `json:"canceled_at"`
}

// OrderStatusChangedEvent is emitted for admin status transitions other than
// cancellation.
type OrderStatusChangedEvent struct {
	OrderSnapshot
	PreviousStatus enums.OrderStatus `json:"previous_status"`
}

// OrderRetriedEvent is emitted when a shopper restarts payment for an order.
type OrderRetriedEvent struct {
	OrderSnapshot
	PreviousStatus        enums.OrderStatus   `json:"previous_status"`
	PreviousPaymentStatus enums.PaymentStatus `json:"previous_payment_status"`
}

// OrderPaidEvent is emitted when payment confirmation commits stock.
type OrderPaidEvent struct {
	OrderSnapshot
	PaidAt time.Time `json:"paid_at"`
}

// PaymentFailedEvent is emitted when a payment confirmation reports failure.
type PaymentFailedEvent struct {
	OrderSnapshot
	Reason string `json:"reason,omitempty"`
}
