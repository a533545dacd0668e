package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository constructs an orders repository tied to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, false, "id = ?", id)
}

// FindByIDForUpdate holds the order row until the transaction ends. SQLite
// ignores the locking clause.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, true, "id = ?", id)
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Order, error) {
	return r.findOne(ctx, false, "number = ?", number)
}

func (r *repository) findOne(ctx context.Context, lock bool, where string, arg any) (*models.Order, error) {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order models.Order
	if err := q.Where(where, arg).First(&order).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("order_id = ?", order.ID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateGuarded applies updates only while the row is still in the guarded
// state and reports how many rows changed.
func (r *repository) UpdateGuarded(ctx context.Context, id uuid.UUID, guard StateGuard, updates map[string]any) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ? AND status = ?", id, guard.Status)
	if guard.PaymentStatus != "" {
		q = q.Where("payment_status = ?", guard.PaymentStatus)
	}
	res := q.Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.Order, int64, error) {
	base := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.UserID != nil {
		base = base.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		base = base.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Order
	if err := base.Session(&gorm.Session{}).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		}).
		Order("created_at DESC").
		Order("id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// NextSequence increments and returns the counter for period in one
// statement; concurrent callers serialize on the sequence row.
func (r *repository) NextSequence(ctx context.Context, period string) (int, error) {
	var seq models.OrderNumberSequence
	err := r.db.WithContext(ctx).Raw(
		`INSERT INTO order_number_sequences (period, last_value) VALUES (?, 1)
ON CONFLICT (period) DO UPDATE SET last_value = order_number_sequences.last_value + 1
RETURNING period, last_value`, period).Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	if seq.LastValue < 1 {
		return 0, fmt.Errorf("order sequence for %s returned %d", period, seq.LastValue)
	}
	return seq.LastValue, nil
}

func (r *repository) FindActiveCartForUpdate(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ?", userID, enums.CartStatusActive).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) ListCartItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	var items []models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// ConvertCart retires the active cart and drops its lines.
func (r *repository) ConvertCart(ctx context.Context, cartID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Cart{}).
		Where("id = ? AND status = ?", cartID, enums.CartStatusActive).
		Update("status", enums.CartStatusConverted)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, nil
	}
	if err := r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}
