package cart

import (
	"github.com/google/uuid"

	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
)

type addItemRequest struct {
	ProductID          uuid.UUID   `json:"productId" validate:"required"`
	VariantID          *uuid.UUID  `json:"variantId,omitempty"`
	Quantity           int         `json:"quantity" validate:"gte=1,lte=999"`
	WarrantyPackageIDs []uuid.UUID `json:"warrantyPackageIds,omitempty" validate:"max=10"`
}

func (r addItemRequest) toInput() cartsvc.AddItemInput {
	return cartsvc.AddItemInput{
		ProductID:          r.ProductID,
		VariantID:          r.VariantID,
		Quantity:           r.Quantity,
		WarrantyPackageIDs: r.WarrantyPackageIDs,
	}
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=1,lte=999"`
}

type syncItemRequest struct {
	ProductID          uuid.UUID   `json:"productId" validate:"required"`
	VariantID          *uuid.UUID  `json:"variantId,omitempty"`
	Quantity           int         `json:"quantity"`
	WarrantyPackageIDs []uuid.UUID `json:"warrantyPackageIds,omitempty"`
}

type syncRequest struct {
	Items []syncItemRequest `json:"items" validate:"dive"`
}

func (r syncRequest) toInput() []cartsvc.SyncItemInput {
	out := make([]cartsvc.SyncItemInput, 0, len(r.Items))
	for _, item := range r.Items {
		out = append(out, cartsvc.SyncItemInput{
			ProductID:          item.ProductID,
			VariantID:          item.VariantID,
			Quantity:           item.Quantity,
			WarrantyPackageIDs: item.WarrantyPackageIDs,
		})
	}
	return out
}

type countResponse struct {
	Count int `json:"count"`
}
