package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/storefront-backend/pkg/db/types"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// SyncItemInput is one entry of a client-held cart.
type SyncItemInput struct {
	ProductID          uuid.UUID   `json:"productId"`
	VariantID          *uuid.UUID  `json:"variantId,omitempty"`
	Quantity           int         `json:"quantity"`
	WarrantyPackageIDs []uuid.UUID `json:"warrantyPackageIds,omitempty"`
}

// Reasons reported for entries left out of a sync.
const (
	SkipNotFound        = "not_found"
	SkipOutOfStock      = "out_of_stock"
	SkipInvalidQuantity = "invalid_quantity"
	SkipInvalidTarget   = "invalid_target"
)

// SkippedItem reports a client entry that was not written.
type SkippedItem struct {
	ProductID uuid.UUID  `json:"productId"`
	VariantID *uuid.UUID `json:"variantId,omitempty"`
	Reason    string     `json:"reason"`
}

// SyncResult is the account cart after a sync plus the dropped entries.
type SyncResult struct {
	Cart    *CartView     `json:"cart"`
	Skipped []SkippedItem `json:"skipped"`
}

// SyncFromClientState replaces the account cart with the client's copy.
// Sync is best effort: entries that no longer resolve or have no stock are
// skipped, quantities are capped at stock, and unknown or inactive warranty
// packages are dropped.
func (s *service) SyncFromClientState(ctx context.Context, identity Identity, items []SyncItemInput) (*SyncResult, error) {
	if !identity.IsAccount() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to sync the cart")
	}

	result := &SyncResult{Skipped: []SkippedItem{}}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, _, err := s.resolveCart(ctx, tx, AccountIdentity(*identity.AccountID))
		if err != nil {
			return err
		}
		if err := repo.DeleteItems(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}

		written := map[string]*models.CartItem{}
		for _, item := range items {
			skip := func(reason string) {
				result.Skipped = append(result.Skipped, SkippedItem{
					ProductID: item.ProductID,
					VariantID: item.VariantID,
					Reason:    reason,
				})
			}
			if item.ProductID == uuid.Nil {
				skip(SkipInvalidTarget)
				continue
			}
			if item.Quantity < 1 {
				skip(SkipInvalidQuantity)
				continue
			}

			target := catalog.TargetFor(item.ProductID, item.VariantID)
			res, err := s.oracle.Resolve(ctx, tx, target)
			if err != nil {
				typed := pkgerrors.As(err)
				switch {
				case typed != nil && typed.Code() == pkgerrors.CodeNotFound:
					skip(SkipNotFound)
					continue
				case typed != nil && typed.Code() == pkgerrors.CodeValidation:
					skip(SkipInvalidTarget)
					continue
				default:
					return err
				}
			}
			if !res.Sellable || res.Available <= 0 {
				skip(SkipOutOfStock)
				continue
			}

			warranties, err := s.oracle.FilterActiveWarranties(ctx, tx, dbtypes.UUIDArray(item.WarrantyPackageIDs))
			if err != nil {
				return err
			}

			key := target.String() + "|" + warranties.Key()
			if line, ok := written[key]; ok {
				line.Quantity = min(line.Quantity+item.Quantity, res.Available)
				if err := repo.UpdateItemQuantity(ctx, line.ID, line.Quantity); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart line")
				}
				continue
			}

			line := &models.CartItem{
				CartID:             cart.ID,
				ProductID:          target.ProductID(),
				VariantID:          target.VariantID(),
				Quantity:           min(item.Quantity, res.Available),
				Price:              res.Price,
				WarrantyPackageIDs: warranties,
			}
			if err := repo.CreateItem(ctx, line); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart line")
			}
			written[key] = line
		}

		if err := repo.Touch(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch cart")
		}
		result.Cart, err = s.buildView(ctx, tx, cart)
		return err
	})
	s.record("sync", err)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, identity)
	return result, nil
}
