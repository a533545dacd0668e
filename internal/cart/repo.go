package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

const createCartSavepoint = "cart_create"

// CartOwner selects the identity column a cart is keyed on. Exactly one field
// is set.
type CartOwner struct {
	UserID    *uuid.UUID
	SessionID *string
}

func ownerForUser(id uuid.UUID) CartOwner {
	return CartOwner{UserID: &id}
}

func ownerForSession(sessionID string) CartOwner {
	return CartOwner{SessionID: &sessionID}
}

// Repository exposes persistence operations for carts and their lines.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindActiveByUser loads the active cart for an account.
func (r *Repository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, enums.CartStatusActive).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindActiveBySession loads the active cart for an anonymous session.
func (r *Repository) FindActiveBySession(ctx context.Context, sessionID string) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, enums.CartStatusActive).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *Repository) findActive(ctx context.Context, owner CartOwner) (*models.Cart, error) {
	switch {
	case owner.UserID != nil:
		return r.FindActiveByUser(ctx, *owner.UserID)
	case owner.SessionID != nil:
		return r.FindActiveBySession(ctx, *owner.SessionID)
	default:
		return nil, errors.New("cart owner required")
	}
}

// FindOrCreateActive returns the owner's active cart, creating it when absent.
// The insert runs under a savepoint; losing the race on the active-cart unique
// index rolls back to it and re-reads the winner's row. Must be called inside
// a transaction.
func (r *Repository) FindOrCreateActive(ctx context.Context, owner CartOwner) (*models.Cart, bool, error) {
	cart, err := r.findActive(ctx, owner)
	if err == nil {
		return cart, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	conn := r.db.WithContext(ctx)
	if err := conn.SavePoint(createCartSavepoint).Error; err != nil {
		return nil, false, fmt.Errorf("savepoint: %w", err)
	}

	created := &models.Cart{
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		Status:    enums.CartStatusActive,
	}
	if err := conn.Create(created).Error; err != nil {
		if !db.IsUniqueViolation(err, "ux_carts_active_user") && !db.IsUniqueViolation(err, "ux_carts_active_session") {
			return nil, false, err
		}
		if rbErr := conn.RollbackTo(createCartSavepoint).Error; rbErr != nil {
			return nil, false, fmt.Errorf("rollback to savepoint: %w", rbErr)
		}
		winner, findErr := r.findActive(ctx, owner)
		if findErr != nil {
			return nil, false, findErr
		}
		return winner, false, nil
	}
	return created, true, nil
}

// FindByID loads a cart regardless of status.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	if err := r.db.WithContext(ctx).First(&cart, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// UpdateStatus moves a cart from one status to another. Callers inspect the
// affected rows to detect a concurrent transition.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.CartStatus) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// Touch bumps updated_at so idle-cart retention measures from the last write.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// ListItems returns the lines of a cart in insertion order.
func (r *Repository) ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	var rows []models.CartItem
	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindItem loads a single line by id.
func (r *Repository) FindItem(ctx context.Context, id uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) targetScope(ctx context.Context, cartID uuid.UUID, target catalog.LineTarget) *gorm.DB {
	q := r.db.WithContext(ctx).Where("cart_id = ? AND product_id = ?", cartID, target.ProductID())
	if variantID := target.VariantID(); variantID != nil {
		return q.Where("variant_id = ?", *variantID)
	}
	return q.Where("variant_id IS NULL")
}

// FindLine looks up the line for a target and canonical warranty key.
func (r *Repository) FindLine(ctx context.Context, cartID uuid.UUID, target catalog.LineTarget, warrantyKey string) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.targetScope(ctx, cartID, target).
		Where("warranty_key = ?", warrantyKey).
		First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// FindLineByTarget returns the oldest line for a target, ignoring warranties.
func (r *Repository) FindLineByTarget(ctx context.Context, cartID uuid.UUID, target catalog.LineTarget) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.targetScope(ctx, cartID, target).
		Order("created_at ASC").
		Order("id ASC").
		First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateItem inserts a new line.
func (r *Repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// UpdateItemQuantity overwrites a line's quantity.
func (r *Repository) UpdateItemQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", id).
		Updates(map[string]any{"quantity": quantity, "updated_at": time.Now()}).Error
}

// MoveItem reassigns a line to another cart with a new quantity.
func (r *Repository) MoveItem(ctx context.Context, id, cartID uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", id).
		Updates(map[string]any{"cart_id": cartID, "quantity": quantity, "updated_at": time.Now()}).Error
}

// DeleteItem removes one line. Deleting a missing line is not an error.
func (r *Repository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.CartItem{}).Error
}

// DeleteItems removes every line of a cart.
func (r *Repository) DeleteItems(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error
}

// SumQuantity returns the total units across a cart's lines.
func (r *Repository) SumQuantity(ctx context.Context, cartID uuid.UUID) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("cart_id = ?", cartID).
		Select("COALESCE(SUM(quantity), 0)").
		Row().
		Scan(&total)
	return int(total), err
}

// DeleteRetiredBefore removes merged and converted carts last touched before
// cutoff. Their lines go with them through the cascade.
func (r *Repository) DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []enums.CartStatus{enums.CartStatusMerged, enums.CartStatusConverted}, cutoff).
		Delete(&models.Cart{})
	return res.RowsAffected, res.Error
}

// DeleteIdleGuestCartsBefore removes anonymous carts whose cookie has expired.
func (r *Repository) DeleteIdleGuestCartsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND user_id IS NULL AND updated_at < ?", enums.CartStatusActive, cutoff).
		Delete(&models.Cart{})
	return res.RowsAffected, res.Error
}
