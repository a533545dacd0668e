package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

// Repository persists orders and the cart state checkout consumes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	UpdateGuarded(ctx context.Context, id uuid.UUID, guard StateGuard, updates map[string]any) (int64, error)
	List(ctx context.Context, filter ListFilter) ([]models.Order, int64, error)
	NextSequence(ctx context.Context, period string) (int, error)

	FindActiveCartForUpdate(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	ListCartItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	ConvertCart(ctx context.Context, cartID uuid.UUID) (int64, error)
}

// StateGuard is the state an update expects to find. An empty PaymentStatus
// leaves the payment column unchecked.
type StateGuard struct {
	Status        enums.OrderStatus
	PaymentStatus enums.PaymentStatus
}

// ListFilter scopes an order listing.
type ListFilter struct {
	UserID *uuid.UUID
	Status *enums.OrderStatus
	Limit  int
	Offset int
}

// StockOracle is the subset of the catalog oracle orders need.
type StockOracle interface {
	Resolve(ctx context.Context, tx *gorm.DB, target catalog.LineTarget) (*catalog.Resolution, error)
	Restock(ctx context.Context, tx *gorm.DB, target catalog.LineTarget, qty int) error
	Decrement(ctx context.Context, tx *gorm.DB, target catalog.LineTarget, qty int) error
}

// OutboxEmitter queues a domain event inside the caller's transaction.
type OutboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CartCounts drops an account's cached cart count once checkout has emptied
// the cart. internal/cart.RedisCountCache implements it.
type CartCounts interface {
	InvalidateAccount(ctx context.Context, userID uuid.UUID) error
}

// Recorder receives order lifecycle counts. pkg/metrics implements it.
type Recorder interface {
	ObserveOrderEvent(event enums.OutboxEventType)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type noopRecorder struct{}

func (noopRecorder) ObserveOrderEvent(enums.OutboxEventType) {}

type noopCartCounts struct{}

func (noopCartCounts) InvalidateAccount(context.Context, uuid.UUID) error { return nil }
