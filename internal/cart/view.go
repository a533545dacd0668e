package cart

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// CartView is the priced read model returned by every cart operation.
type CartView struct {
	ID         *uuid.UUID      `json:"id"`
	Items      []LineView      `json:"items"`
	TotalItems int             `json:"totalItems"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// LineView is a cart line enriched with the live catalog state.
type LineView struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"productId"`
	VariantID   *uuid.UUID      `json:"variantId,omitempty"`
	Name        string          `json:"name"`
	VariantName string          `json:"variantName,omitempty"`
	SKU         string          `json:"sku"`
	Image       *string         `json:"image,omitempty"`
	Quantity    int             `json:"quantity"`
	// SnapshotPrice is the unit price recorded when the line was created.
	SnapshotPrice decimal.Decimal `json:"snapshotPrice"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Available     int             `json:"availableQuantity"`
	InStock       bool            `json:"inStock"`
	// Unavailable marks a line whose product or variant no longer resolves.
	// It is priced at its snapshot.
	Unavailable bool            `json:"unavailable,omitempty"`
	Warranties  []WarrantyView  `json:"warrantyPackages"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// WarrantyView describes a warranty package attached to a line.
type WarrantyView struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	DurationMonths int             `json:"durationMonths"`
	Price          decimal.Decimal `json:"price"`
	Active         bool            `json:"active"`
}

func emptyView() *CartView {
	return &CartView{Items: []LineView{}, Subtotal: decimal.Zero}
}

// buildView prices every line at the current catalog price plus the current
// price of its warranty packages.
func (s *service) buildView(ctx context.Context, tx *gorm.DB, cart *models.Cart) (*CartView, error) {
	if cart == nil {
		return emptyView(), nil
	}
	items, err := s.repo.WithTx(tx).ListItems(ctx, cart.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart items")
	}

	warrantyIDs := make([]uuid.UUID, 0)
	for _, item := range items {
		warrantyIDs = append(warrantyIDs, item.WarrantyPackageIDs...)
	}
	warranties, err := s.oracle.Warranties(ctx, tx, warrantyIDs)
	if err != nil {
		return nil, err
	}

	id := cart.ID
	view := &CartView{ID: &id, Items: make([]LineView, 0, len(items)), Subtotal: decimal.Zero}
	for _, item := range items {
		line, err := s.lineView(ctx, tx, item, warranties)
		if err != nil {
			return nil, err
		}
		view.Items = append(view.Items, line)
		view.TotalItems += line.Quantity
		view.Subtotal = view.Subtotal.Add(line.LineTotal)
	}
	return view, nil
}

func (s *service) lineView(ctx context.Context, tx *gorm.DB, item models.CartItem, warranties map[uuid.UUID]models.WarrantyPackage) (LineView, error) {
	line := LineView{
		ID:            item.ID,
		ProductID:     item.ProductID,
		VariantID:     item.VariantID,
		Quantity:      item.Quantity,
		SnapshotPrice: item.Price,
		UnitPrice:     item.Price,
		Warranties:    []WarrantyView{},
	}

	res, err := s.oracle.Resolve(ctx, tx, catalog.TargetFor(item.ProductID, item.VariantID))
	switch {
	case err == nil:
		line.Name = res.DisplayName()
		line.VariantName = res.VariantName
		line.SKU = res.SKU
		line.Image = res.Image
		line.UnitPrice = res.Price
		line.Available = res.Available
		line.InStock = res.Sellable
	case isCatalogMismatch(err):
		line.Unavailable = true
	default:
		return LineView{}, err
	}

	perUnit := line.UnitPrice
	for _, wid := range item.WarrantyPackageIDs {
		pkg, ok := warranties[wid]
		if !ok {
			continue
		}
		perUnit = perUnit.Add(pkg.Price)
		line.Warranties = append(line.Warranties, WarrantyView{
			ID:             pkg.ID,
			Name:           pkg.Name,
			DurationMonths: pkg.DurationMonths,
			Price:          pkg.Price,
			Active:         pkg.IsActive,
		})
	}
	line.LineTotal = perUnit.Mul(decimal.NewFromInt(int64(item.Quantity)))
	return line, nil
}

func isCatalogMismatch(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	return typed.Code() == pkgerrors.CodeNotFound || typed.Code() == pkgerrors.CodeValidation
}
