package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/storefront-backend/pkg/db/types"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Service exposes the cart operations.
type Service interface {
	GetCart(ctx context.Context, identity Identity) (*CartView, error)
	CountItems(ctx context.Context, identity Identity) (int, error)
	AddItem(ctx context.Context, identity Identity, input AddItemInput) (*Result, error)
	UpdateItemQuantity(ctx context.Context, identity Identity, itemID uuid.UUID, quantity int) (*CartView, error)
	RemoveItem(ctx context.Context, identity Identity, itemID uuid.UUID) (*CartView, error)
	ClearCart(ctx context.Context, identity Identity) (*CartView, error)
	MergeGuestCart(ctx context.Context, identity Identity) (*Result, error)
	SyncFromClientState(ctx context.Context, identity Identity, items []SyncItemInput) (*SyncResult, error)
}

// AddItemInput describes one add-to-cart request.
type AddItemInput struct {
	ProductID          uuid.UUID
	VariantID          *uuid.UUID
	Quantity           int
	WarrantyPackageIDs []uuid.UUID
}

// Result pairs the recomputed cart with an optional cookie instruction.
type Result struct {
	Cart   *CartView
	Cookie *CookieDirective
}

type service struct {
	repo         CartRepository
	tx           txRunner
	oracle       StockOracle
	counts       CountCache
	metrics      MutationRecorder
	logg         *logger.Logger
	group        singleflight.Group
	newSessionID func() string
}

// NewService builds a cart service backed by the provided stack. counts,
// metrics and logg are optional.
func NewService(
	repo CartRepository,
	tx txRunner,
	oracle StockOracle,
	counts CountCache,
	metrics MutationRecorder,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("stock oracle required")
	}
	if counts == nil {
		counts = noopCountCache{}
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &service{
		repo:         repo,
		tx:           tx,
		oracle:       oracle,
		counts:       counts,
		metrics:      metrics,
		logg:         logg,
		newSessionID: uuid.NewString,
	}, nil
}

// GetCart returns the identity's active cart. An anonymous caller without a
// session gets an empty view and no cart row is created.
func (s *service) GetCart(ctx context.Context, identity Identity) (*CartView, error) {
	if identity.IsZero() {
		return emptyView(), nil
	}
	var view *CartView
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, _, err := s.resolveCart(ctx, tx, identity)
		if err != nil {
			return err
		}
		view, err = s.buildView(ctx, tx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// CountItems returns the units in the identity's cart, served from the count
// cache when possible.
func (s *service) CountItems(ctx context.Context, identity Identity) (int, error) {
	key := identity.cacheKey()
	if key == "" {
		return 0, nil
	}

	count, ok, err := s.counts.Get(ctx, key)
	if err != nil {
		s.warn(ctx, "cart count cache read failed", err)
	} else if ok {
		s.metrics.ObserveCountCache(true)
		return count, nil
	}
	s.metrics.ObserveCountCache(false)

	v, err, _ := s.group.Do(key, func() (any, error) {
		total, err := s.countFromStore(ctx, identity)
		if err != nil {
			return 0, err
		}
		if err := s.counts.Set(ctx, key, total); err != nil {
			s.warn(ctx, "cart count cache write failed", err)
		}
		return total, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *service) countFromStore(ctx context.Context, identity Identity) (int, error) {
	cart, err := s.findCart(ctx, nil, identity)
	if err != nil {
		return 0, err
	}
	if cart == nil {
		return 0, nil
	}
	total, err := s.repo.SumQuantity(ctx, cart.ID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count cart items")
	}
	return total, nil
}

// AddItem adds quantity units of a product or variant, folding into the
// existing line for the same warranty set. An anonymous caller without a
// session is issued one.
func (s *service) AddItem(ctx context.Context, identity Identity, input AddItemInput) (*Result, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var (
		result   = &Result{}
		resolved Identity
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		resolved = identity
		if identity.IsZero() {
			resolved = SessionIdentity(s.newSessionID())
			result.Cookie = setSessionCookie(resolved.SessionID)
		}
		cart, _, err := s.resolveCart(ctx, tx, resolved)
		if err != nil {
			return err
		}

		target := catalog.TargetFor(input.ProductID, input.VariantID)
		res, err := s.oracle.Resolve(ctx, tx, target)
		if err != nil {
			return err
		}
		if !res.Sellable {
			return pkgerrors.New(pkgerrors.CodeOutOfStock, "product is out of stock").
				WithDetails(map[string]any{"productId": input.ProductID})
		}

		warranties := dbtypes.UUIDArray(input.WarrantyPackageIDs).Canonical()
		if _, err := s.oracle.ValidateWarranties(ctx, tx, warranties); err != nil {
			return err
		}

		repo := s.repo.WithTx(tx)
		existing, err := repo.FindLine(ctx, cart.ID, target, warranties.Key())
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart line")
		}

		inCart := 0
		if existing != nil {
			inCart = existing.Quantity
		}
		combined := inCart + input.Quantity
		if combined > res.Available {
			return insufficientStock(res.Available, combined, inCart)
		}

		if existing != nil {
			err = repo.UpdateItemQuantity(ctx, existing.ID, combined)
		} else {
			err = repo.CreateItem(ctx, &models.CartItem{
				CartID:             cart.ID,
				ProductID:          target.ProductID(),
				VariantID:          target.VariantID(),
				Quantity:           input.Quantity,
				Price:              res.Price,
				WarrantyPackageIDs: warranties,
			})
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart line")
		}
		if err := repo.Touch(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch cart")
		}

		result.Cart, err = s.buildView(ctx, tx, cart)
		return err
	})
	s.record("add", err)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, resolved)
	return result, nil
}

// UpdateItemQuantity overwrites a line's quantity after an ownership and
// stock check.
func (s *service) UpdateItemQuantity(ctx context.Context, identity Identity, itemID uuid.UUID, quantity int) (*CartView, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var view *CartView
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, cart, err := s.loadOwnedItem(ctx, tx, identity, itemID)
		if err != nil {
			return err
		}

		available, err := s.available(ctx, tx, catalog.TargetFor(item.ProductID, item.VariantID))
		if err != nil {
			return err
		}
		if quantity > available {
			return insufficientStock(available, quantity, item.Quantity)
		}

		if err := repo.UpdateItemQuantity(ctx, item.ID, quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart line")
		}
		if err := repo.Touch(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch cart")
		}
		view, err = s.buildView(ctx, tx, cart)
		return err
	})
	s.record("update", err)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, identity)
	return view, nil
}

// RemoveItem deletes a line. A line that no longer exists is not an error.
func (s *service) RemoveItem(ctx context.Context, identity Identity, itemID uuid.UUID) (*CartView, error) {
	var view *CartView
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		item, cart, err := s.loadOwnedItem(ctx, tx, identity, itemID)
		if err != nil {
			if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
				return err
			}
			current, findErr := s.findCart(ctx, tx, identity)
			if findErr != nil {
				return findErr
			}
			view, err = s.buildView(ctx, tx, current)
			return err
		}

		if err := s.repo.WithTx(tx).DeleteItem(ctx, item.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart line")
		}
		view, err = s.buildView(ctx, tx, cart)
		return err
	})
	s.record("remove", err)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, identity)
	return view, nil
}

// ClearCart deletes every line of the identity's active cart.
func (s *service) ClearCart(ctx context.Context, identity Identity) (*CartView, error) {
	var view *CartView
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, err := s.findCart(ctx, tx, identity)
		if err != nil || cart == nil {
			view = emptyView()
			return err
		}
		if err := s.repo.WithTx(tx).DeleteItems(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}
		view, err = s.buildView(ctx, tx, cart)
		return err
	})
	s.record("clear", err)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, identity)
	return view, nil
}

// resolveCart returns the active cart for identity, creating it when absent.
// An identity with neither account nor session resolves to no cart.
func (s *service) resolveCart(ctx context.Context, tx *gorm.DB, identity Identity) (*models.Cart, bool, error) {
	var owner CartOwner
	switch {
	case identity.IsAccount():
		owner = ownerForUser(*identity.AccountID)
	case identity.HasSession():
		owner = ownerForSession(identity.SessionID)
	default:
		return nil, false, nil
	}
	cart, created, err := s.repo.WithTx(tx).FindOrCreateActive(ctx, owner)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve cart")
	}
	return cart, created, nil
}

// findCart returns the active cart for identity without creating one.
func (s *service) findCart(ctx context.Context, tx *gorm.DB, identity Identity) (*models.Cart, error) {
	repo := s.repo.WithTx(tx)
	var (
		cart *models.Cart
		err  error
	)
	switch {
	case identity.IsAccount():
		cart, err = repo.FindActiveByUser(ctx, *identity.AccountID)
	case identity.HasSession():
		cart, err = repo.FindActiveBySession(ctx, identity.SessionID)
	default:
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return cart, nil
}

func (s *service) loadOwnedItem(ctx context.Context, tx *gorm.DB, identity Identity, itemID uuid.UUID) (*models.CartItem, *models.Cart, error) {
	repo := s.repo.WithTx(tx)
	item, err := repo.FindItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
	}
	cart, err := repo.FindByID(ctx, item.CartID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if !owns(identity, cart) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "cart item belongs to another cart")
	}
	if cart.Status != enums.CartStatusActive {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	return item, cart, nil
}

// owns reports whether identity may act on cart: the account matches, or the
// session cookie matches an anonymous cart.
func owns(identity Identity, cart *models.Cart) bool {
	if cart.UserID != nil && identity.IsAccount() && *cart.UserID == *identity.AccountID {
		return true
	}
	if cart.SessionID != nil && identity.HasSession() && *cart.SessionID == identity.SessionID {
		return true
	}
	return false
}

func (s *service) available(ctx context.Context, tx *gorm.DB, target catalog.LineTarget) (int, error) {
	res, err := s.oracle.Resolve(ctx, tx, target)
	if err != nil {
		return 0, err
	}
	return res.Available, nil
}

func insufficientStock(available, requested, inCart int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("only %d units available", available)).
		WithDetails(map[string]any{
			"available": available,
			"requested": requested,
			"inCart":    inCart,
		})
}

// invalidate drops cached counts after a commit. Both keys are cleared since
// a login can change which cart an identity resolves to.
func (s *service) invalidate(ctx context.Context, identity Identity) {
	keys := identity.cacheKeys()
	if len(keys) == 0 {
		return
	}
	if err := s.counts.Invalidate(ctx, keys...); err != nil {
		s.warn(ctx, "cart count cache invalidation failed", err)
	}
}

func (s *service) record(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if typed := pkgerrors.As(err); typed != nil {
			outcome = strings.ToLower(string(typed.Code()))
		}
	}
	s.metrics.ObserveCartMutation(operation, outcome)
}

func (s *service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithField(ctx, "error", err.Error())
	s.logg.Warn(ctx, msg)
}
