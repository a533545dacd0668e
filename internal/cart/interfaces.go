package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/storefront-backend/pkg/db/types"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	FindActiveBySession(ctx context.Context, sessionID string) (*models.Cart, error)
	FindOrCreateActive(ctx context.Context, owner CartOwner) (*models.Cart, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.CartStatus) (int64, error)
	Touch(ctx context.Context, id uuid.UUID) error

	ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	FindItem(ctx context.Context, id uuid.UUID) (*models.CartItem, error)
	FindLine(ctx context.Context, cartID uuid.UUID, target catalog.LineTarget, warrantyKey string) (*models.CartItem, error)
	FindLineByTarget(ctx context.Context, cartID uuid.UUID, target catalog.LineTarget) (*models.CartItem, error)
	CreateItem(ctx context.Context, item *models.CartItem) error
	UpdateItemQuantity(ctx context.Context, id uuid.UUID, quantity int) error
	MoveItem(ctx context.Context, id, cartID uuid.UUID, quantity int) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
	DeleteItems(ctx context.Context, cartID uuid.UUID) error
	SumQuantity(ctx context.Context, cartID uuid.UUID) (int, error)

	DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteIdleGuestCartsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StockOracle is the catalog surface the cart relies on for stock, prices and
// warranty packages.
type StockOracle interface {
	Resolve(ctx context.Context, tx *gorm.DB, target catalog.LineTarget) (*catalog.Resolution, error)
	ValidateWarranties(ctx context.Context, tx *gorm.DB, ids dbtypes.UUIDArray) ([]models.WarrantyPackage, error)
	FilterActiveWarranties(ctx context.Context, tx *gorm.DB, ids dbtypes.UUIDArray) (dbtypes.UUIDArray, error)
	Warranties(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.WarrantyPackage, error)
}

// MutationRecorder receives one observation per cart mutation.
type MutationRecorder interface {
	ObserveCartMutation(operation, outcome string)
	ObserveMergedLines(lines int)
	ObserveCountCache(hit bool)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type noopRecorder struct{}

func (noopRecorder) ObserveCartMutation(string, string) {}
func (noopRecorder) ObserveMergedLines(int)             {}
func (noopRecorder) ObserveCountCache(bool)             {}
