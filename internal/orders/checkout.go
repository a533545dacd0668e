package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// Totals are the adjustments applied on top of the line subtotal.
type Totals struct {
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
}

// TotalsPolicy prices everything that is not a line.
type TotalsPolicy interface {
	Totals(subtotal decimal.Decimal, lines []models.CartItem, shipTo string) Totals
}

// ZeroTotals charges no tax or shipping and grants no discount.
type ZeroTotals struct{}

func (ZeroTotals) Totals(decimal.Decimal, []models.CartItem, string) Totals {
	return Totals{Tax: decimal.Zero, Shipping: decimal.Zero, Discount: decimal.Zero}
}

// FormatOrderNumber renders ORD-YYMM-NNNNN.
func FormatOrderNumber(period string, seq int) string {
	return fmt.Sprintf("ORD-%s-%05d", period, seq)
}

func orderPeriod(now time.Time) string {
	return now.Format("0601")
}

// CreateOrder converts the account's active cart into an order. Everything,
// including the outbox event, commits together or not at all. Stock is not
// decremented here; payment confirmation does that.
func (s *service) CreateOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput) (*OrderView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to place an order")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	shipping := input.Shipping.Normalize()
	if shipping.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address required")
	}
	billing := shipping
	if input.Billing != nil && !input.Billing.IsZero() {
		billing = input.Billing.Normalize()
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := repo.FindActiveCartForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		lines, err := repo.ListCartItems(ctx, cart.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart lines")
		}
		if len(lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")
		}

		items := make([]models.OrderItem, 0, len(lines))
		subtotal := decimal.Zero
		for _, line := range lines {
			item, err := s.freezeLine(ctx, tx, line)
			if err != nil {
				return err
			}
			subtotal = subtotal.Add(item.Subtotal)
			items = append(items, *item)
		}

		totals := s.totals.Totals(subtotal, lines, shipping.Country)
		total := subtotal.Add(totals.Tax).Add(totals.Shipping).Sub(totals.Discount)

		now := s.now()
		period := orderPeriod(now)
		seq, err := repo.NextSequence(ctx, period)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
		}

		order = &models.Order{
			Number:        FormatOrderNumber(period, seq),
			UserID:        userID,
			Status:        enums.OrderStatusPending,
			PaymentStatus: enums.PaymentStatusPending,
			PaymentMethod: input.PaymentMethod,
			Shipping:      shipping,
			Billing:       billing,
			Subtotal:      subtotal,
			Tax:           totals.Tax,
			ShippingCost:  totals.Shipping,
			Discount:      totals.Discount,
			Total:         total,
			Notes:         input.Notes,
			Items:         items,
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		converted, err := repo.ConvertCart(ctx, cart.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "convert cart")
		}
		if converted == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart changed during checkout")
		}

		return s.emit(ctx, tx, order, enums.EventOrderCreated, userID, payloads.OrderCreatedEvent{
			OrderSnapshot: snapshot(order),
			Subtotal:      order.Subtotal,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.cartCounts.InvalidateAccount(ctx, userID); err != nil {
		s.warn(ctx, "cart count invalidation failed", err)
	}
	s.metrics.ObserveOrderEvent(enums.EventOrderCreated)
	s.info(ctx, "order created", map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.Number,
		"user_id":      userID.String(),
		"total":        order.Total.StringFixed(2),
	})
	return toView(order), nil
}

// freezeLine resolves a cart line against the live catalog and copies what
// the order needs to stay readable without it. The price is the catalog price
// at checkout; the price stored on the cart line is only what the shopper saw
// when adding it.
func (s *service) freezeLine(ctx context.Context, tx *gorm.DB, line models.CartItem) (*models.OrderItem, error) {
	target := catalog.TargetFor(line.ProductID, line.VariantID)
	res, err := s.oracle.Resolve(ctx, tx, target)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && (typed.Code() == pkgerrors.CodeNotFound || typed.Code() == pkgerrors.CodeValidation) {
			return nil, pkgerrors.New(pkgerrors.CodeProductUnavailable, "a product in the cart is no longer available").
				WithDetails(map[string]any{"productId": line.ProductID, "variantId": line.VariantID})
		}
		return nil, err
	}
	if !res.Sellable {
		return nil, pkgerrors.New(pkgerrors.CodeProductUnavailable, fmt.Sprintf("%s is out of stock", res.DisplayName())).
			WithDetails(map[string]any{"productId": line.ProductID, "variantId": line.VariantID})
	}
	if line.Quantity > res.Available {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("only %d of %s left", res.Available, res.DisplayName())).
			WithDetails(map[string]any{
				"productId": line.ProductID,
				"variantId": line.VariantID,
				"available": res.Available,
				"requested": line.Quantity,
			})
	}

	return &models.OrderItem{
		ProductID:          line.ProductID,
		VariantID:          line.VariantID,
		Name:               res.DisplayName(),
		SKU:                res.SKU,
		Price:              res.Price,
		Quantity:           line.Quantity,
		Subtotal:           res.Price.Mul(decimal.NewFromInt(int64(line.Quantity))),
		Image:              res.Image,
		Attributes:         models.OrderItemAttributes{Variant: res.VariantName},
		WarrantyPackageIDs: line.WarrantyPackageIDs.Canonical(),
	}, nil
}

func snapshot(order *models.Order) payloads.OrderSnapshot {
	return payloads.OrderSnapshot{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PaymentMethod: order.PaymentMethod,
		Total:         order.Total,
		ItemCount:     itemCount(order),
	}
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, order *models.Order, eventType enums.OutboxEventType, actorID uuid.UUID, data any) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         buildActor(actorID, order.UserID),
		Data:          data,
		Version:       1,
		OccurredAt:    s.now(),
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(eventType))
	}
	return nil
}

func buildActor(actorID, ownerID uuid.UUID) *outbox.ActorRef {
	if actorID == uuid.Nil {
		return nil
	}
	role := string(enums.MemberRoleCustomer)
	if actorID != ownerID {
		role = string(enums.MemberRoleAdmin)
	}
	return &outbox.ActorRef{UserID: actorID, Role: role}
}
