package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Repository reads catalog rows and applies stock adjustments.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) query(ctx context.Context, lock bool) *gorm.DB {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// FindProduct loads a product. When lock is set the row is held FOR UPDATE
// until the surrounding transaction ends.
func (r *Repository) FindProduct(ctx context.Context, id uuid.UUID, lock bool) (*models.Product, error) {
	var product models.Product
	if err := r.query(ctx, lock).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindVariant loads the variant scoped to its product.
func (r *Repository) FindVariant(ctx context.Context, productID, variantID uuid.UUID, lock bool) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	if err := r.query(ctx, lock).
		Where("id = ? AND product_id = ?", variantID, productID).
		First(&variant).Error; err != nil {
		return nil, err
	}
	return &variant, nil
}

// FindProducts loads products keyed by id. Missing ids are absent from the map.
func (r *Repository) FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// FindVariants loads variants keyed by id.
func (r *Repository) FindVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ProductVariant, error) {
	out := make(map[uuid.UUID]models.ProductVariant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.ProductVariant
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// FindActiveWarranties returns the active packages among ids.
func (r *Repository) FindActiveWarranties(ctx context.Context, ids []uuid.UUID) ([]models.WarrantyPackage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.WarrantyPackage
	err := r.db.WithContext(ctx).
		Where("id IN ? AND is_active = ?", ids, true).
		Order("sort_order ASC").
		Find(&rows).Error
	return rows, err
}

// FindWarranties returns packages among ids regardless of their active flag.
func (r *Repository) FindWarranties(ctx context.Context, ids []uuid.UUID) ([]models.WarrantyPackage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.WarrantyPackage
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("sort_order ASC").
		Find(&rows).Error
	return rows, err
}

// AdjustProductStock applies delta to the product's stock. The update is
// skipped when it would drive stock negative; callers inspect RowsAffected.
func (r *Repository) AdjustProductStock(ctx context.Context, id uuid.UUID, delta int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE products
		SET stock_quantity = stock_quantity + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock_quantity + ? >= 0
	`, delta, id, delta)
	return res.RowsAffected, res.Error
}

// AdjustVariantStock applies delta to the variant's stock with the same
// non-negative guard as AdjustProductStock.
func (r *Repository) AdjustVariantStock(ctx context.Context, id uuid.UUID, delta int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE product_variants
		SET stock_quantity = stock_quantity + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock_quantity + ? >= 0
	`, delta, id, delta)
	return res.RowsAffected, res.Error
}
