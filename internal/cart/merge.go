package cart

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// MergeGuestCart folds the anonymous cart named by the session cookie into the
// account's cart. Quantities are capped at current stock. The guest cart is
// retired as merged once drained, so replaying a stale cookie is a no-op.
func (s *service) MergeGuestCart(ctx context.Context, identity Identity) (*Result, error) {
	if !identity.IsAccount() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to merge a guest cart")
	}

	result := &Result{}
	merged := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, _, err := s.resolveCart(ctx, tx, AccountIdentity(*identity.AccountID))
		if err != nil {
			return err
		}

		if !identity.HasSession() {
			result.Cart, err = s.buildView(ctx, tx, account)
			return err
		}
		guest, err := repo.FindActiveBySession(ctx, identity.SessionID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load guest cart")
			}
			result.Cart, err = s.buildView(ctx, tx, account)
			return err
		}

		lines, err := repo.ListItems(ctx, guest.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list guest cart items")
		}

		for _, line := range lines {
			target := catalog.TargetFor(line.ProductID, line.VariantID)
			stock := 0
			res, err := s.oracle.Resolve(ctx, tx, target)
			switch {
			case err == nil:
				stock = res.Available
			case isCatalogMismatch(err):
				// Product or variant is gone; the line is dropped below.
			default:
				return err
			}

			existing, err := repo.FindLineByTarget(ctx, account.ID, target)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account cart line")
			}

			if existing != nil {
				capped := min(existing.Quantity+line.Quantity, stock)
				if capped > 0 {
					err = repo.UpdateItemQuantity(ctx, existing.ID, capped)
				} else {
					err = repo.DeleteItem(ctx, existing.ID)
				}
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge cart line")
				}
				if err := repo.DeleteItem(ctx, line.ID); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete guest cart line")
				}
				merged++
				continue
			}

			capped := min(line.Quantity, stock)
			if capped > 0 {
				err = repo.MoveItem(ctx, line.ID, account.ID, capped)
				merged++
			} else {
				err = repo.DeleteItem(ctx, line.ID)
			}
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "move guest cart line")
			}
		}

		rows, err := repo.UpdateStatus(ctx, guest.ID, enums.CartStatusActive, enums.CartStatusMerged)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retire guest cart")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "guest cart was merged concurrently")
		}
		if err := repo.Touch(ctx, account.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch cart")
		}

		result.Cookie = clearSessionCookie()
		result.Cart, err = s.buildView(ctx, tx, account)
		return err
	})
	s.record("merge", err)
	if err != nil {
		return nil, err
	}
	if result.Cookie != nil {
		s.metrics.ObserveMergedLines(merged)
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"user_id":      identity.AccountID.String(),
				"merged_lines": merged,
			})
			s.logg.Info(logCtx, "guest cart merged")
		}
	}
	s.invalidate(ctx, identity)
	return result, nil
}
