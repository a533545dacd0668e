package orders

import (
	"strings"

	"github.com/angelmondragon/storefront-backend/api/validators"
	ordersvc "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type createOrderRequest struct {
	ShippingAddress types.Address  `json:"shippingAddress"`
	BillingAddress  *types.Address `json:"billingAddress,omitempty"`
	PaymentMethod   string         `json:"paymentMethod" validate:"required,oneof=cod bank_transfer card e_wallet"`
	Notes           *string        `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

func (r createOrderRequest) toInput() ordersvc.CreateOrderInput {
	input := ordersvc.CreateOrderInput{
		Shipping:      r.ShippingAddress,
		Billing:       r.BillingAddress,
		PaymentMethod: enums.PaymentMethod(r.PaymentMethod),
	}
	if r.Notes != nil {
		if note := validators.SanitizeString(*r.Notes, 1000); note != "" {
			input.Notes = &note
		}
	}
	return input
}

type statusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered completed cancelled"`
}

type paymentRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=paid failed"`
	Reason  string `json:"reason,omitempty" validate:"max=500"`
}

func (r paymentRequest) reason() string {
	return strings.TrimSpace(r.Reason)
}
