package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/storefront-backend/pkg/db/types"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Resolution is the current catalog view of a LineTarget.
type Resolution struct {
	Target      LineTarget
	ProductName string
	VariantName string
	SKU         string
	Price       decimal.Decimal
	Available   int
	// Sellable mirrors the product's in_stock and is_active flags. A sellable
	// target may still have zero stock.
	Sellable bool
	Image    *string
}

// DisplayName is the product name, suffixed with the variant name when the
// target is a variant.
func (r Resolution) DisplayName() string {
	if r.VariantName == "" {
		return r.ProductName
	}
	return r.ProductName + " - " + r.VariantName
}

// Oracle is the single place where stock and price are resolved for a line.
// Every read hits storage; nothing is cached.
type Oracle struct {
	repo     *Repository
	lockRows bool
}

// NewOracle builds an oracle. lockRows makes Resolve hold the stock row
// FOR UPDATE inside the caller's transaction; it must be false on SQLite.
func NewOracle(repo *Repository, lockRows bool) *Oracle {
	return &Oracle{repo: repo, lockRows: lockRows}
}

// Resolve returns the current price and stock for target.
func (o *Oracle) Resolve(ctx context.Context, tx *gorm.DB, target LineTarget) (*Resolution, error) {
	if target.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "line target required")
	}
	repo := o.repo.WithTx(tx)

	product, err := repo.FindProduct(ctx, target.ProductID(), o.lockRows && !target.IsVariant())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}

	res := &Resolution{
		Target:      target,
		ProductName: product.Name,
		SKU:         product.SKU,
		Price:       product.Price,
		Available:   product.StockQuantity,
		Sellable:    product.InStock && product.IsActive,
		Image:       product.Thumbnail,
	}

	if !target.IsVariant() {
		if product.HasVariants {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant required for this product")
		}
		return res, nil
	}

	if !product.HasVariants {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product has no variants")
	}

	variant, err := repo.FindVariant(ctx, target.ProductID(), *target.VariantID(), o.lockRows)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product variant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product variant")
	}

	res.VariantName = variant.Name
	res.Price = variant.Price
	res.Available = variant.StockQuantity
	if variant.SKU != "" {
		res.SKU = variant.SKU
	}
	return res, nil
}

// AvailableQuantity returns the current sellable quantity for target.
func (o *Oracle) AvailableQuantity(ctx context.Context, tx *gorm.DB, target LineTarget) (int, error) {
	res, err := o.Resolve(ctx, tx, target)
	if err != nil {
		return 0, err
	}
	return res.Available, nil
}

// Restock returns qty units to the target's stock.
func (o *Oracle) Restock(ctx context.Context, tx *gorm.DB, target LineTarget, qty int) error {
	if qty <= 0 {
		return nil
	}
	return o.adjust(ctx, tx, target, qty)
}

// Decrement removes qty units from the target's stock. It fails with
// INSUFFICIENT_STOCK rather than letting stock go negative.
func (o *Oracle) Decrement(ctx context.Context, tx *gorm.DB, target LineTarget, qty int) error {
	if qty <= 0 {
		return nil
	}
	return o.adjust(ctx, tx, target, -qty)
}

func (o *Oracle) adjust(ctx context.Context, tx *gorm.DB, target LineTarget, delta int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock adjustment")
	}
	repo := o.repo.WithTx(tx)

	var (
		rows int64
		err  error
	)
	if target.IsVariant() {
		rows, err = repo.AdjustVariantStock(ctx, *target.VariantID(), delta)
	} else {
		rows, err = repo.AdjustProductStock(ctx, target.ProductID(), delta)
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust stock")
	}
	if rows == 1 {
		return nil
	}

	if delta > 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("stock row missing for %s", target))
	}
	available, aerr := o.AvailableQuantity(ctx, tx, target)
	if aerr != nil {
		return aerr
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{"available": available, "requested": -delta})
}

// ValidateWarranties checks that every requested id names an active package.
// Partial validity is rejected as a whole.
func (o *Oracle) ValidateWarranties(ctx context.Context, tx *gorm.DB, ids dbtypes.UUIDArray) ([]models.WarrantyPackage, error) {
	canon := ids.Canonical()
	if len(canon) == 0 {
		return nil, nil
	}
	rows, err := o.repo.WithTx(tx).FindActiveWarranties(ctx, canon)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load warranty packages")
	}
	if len(rows) != len(canon) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidWarranty, "one or more warranty packages are invalid or inactive")
	}
	return rows, nil
}

// FilterActiveWarranties keeps only ids that name an active package.
func (o *Oracle) FilterActiveWarranties(ctx context.Context, tx *gorm.DB, ids dbtypes.UUIDArray) (dbtypes.UUIDArray, error) {
	canon := ids.Canonical()
	if len(canon) == 0 {
		return dbtypes.UUIDArray{}, nil
	}
	rows, err := o.repo.WithTx(tx).FindActiveWarranties(ctx, canon)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load warranty packages")
	}
	out := make(dbtypes.UUIDArray, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ID)
	}
	return out.Canonical(), nil
}

// Warranties returns the packages for ids keyed by id, including inactive
// ones, so lines added before a package was retired still price correctly.
func (o *Oracle) Warranties(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.WarrantyPackage, error) {
	rows, err := o.repo.WithTx(tx).FindWarranties(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load warranty packages")
	}
	out := make(map[uuid.UUID]models.WarrantyPackage, len(rows))
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}
