package catalog

import (
	"github.com/google/uuid"
)

type targetKind uint8

const (
	kindProduct targetKind = iota + 1
	kindVariant
)

// LineTarget identifies what a cart or order line points at: either a plain
// product or one variant of a product. All stock and price lookups go through
// a LineTarget so callers never branch on the presence of a variant id.
type LineTarget struct {
	kind      targetKind
	productID uuid.UUID
	variantID uuid.UUID
}

// ProductTarget targets an unvaried product.
func ProductTarget(productID uuid.UUID) LineTarget {
	return LineTarget{kind: kindProduct, productID: productID}
}

// VariantTarget targets a variant of a product.
func VariantTarget(productID, variantID uuid.UUID) LineTarget {
	return LineTarget{kind: kindVariant, productID: productID, variantID: variantID}
}

// TargetFor builds the target for a stored line where the variant column is
// nullable.
func TargetFor(productID uuid.UUID, variantID *uuid.UUID) LineTarget {
	if variantID == nil || *variantID == uuid.Nil {
		return ProductTarget(productID)
	}
	return VariantTarget(productID, *variantID)
}

func (t LineTarget) ProductID() uuid.UUID {
	return t.productID
}

// VariantID returns the variant id or nil for product targets.
func (t LineTarget) VariantID() *uuid.UUID {
	if t.kind != kindVariant {
		return nil
	}
	id := t.variantID
	return &id
}

func (t LineTarget) IsVariant() bool {
	return t.kind == kindVariant
}

// IsZero reports whether the target was never initialised.
func (t LineTarget) IsZero() bool {
	return t.kind == 0
}

// String renders product[:variant] for logs and cache keys.
func (t LineTarget) String() string {
	if t.kind == kindVariant {
		return t.productID.String() + ":" + t.variantID.String()
	}
	return t.productID.String()
}
