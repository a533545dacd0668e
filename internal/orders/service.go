package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Service defines the order lifecycle: checkout, shopper reads and actions,
// payment confirmation and admin transitions.
type Service interface {
	CreateOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput) (*OrderView, error)
	GetByID(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error)
	GetByNumber(ctx context.Context, userID uuid.UUID, number string) (*OrderView, error)
	ListForAccount(ctx context.Context, userID uuid.UUID, params ListParams) (*OrderPage, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error)
	RepayOrder(ctx context.Context, userID, orderID uuid.UUID, origin string) (*RepayResult, error)

	AdminGet(ctx context.Context, orderID uuid.UUID) (*OrderView, error)
	AdminList(ctx context.Context, params ListParams) (*OrderPage, error)
	AdminUpdateStatus(ctx context.Context, input StatusUpdateInput) (*OrderView, error)
	ConfirmPayment(ctx context.Context, input ConfirmPaymentInput) (*OrderView, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	Repository   Repository
	Tx           txRunner
	Oracle       StockOracle
	Outbox       OutboxEmitter
	Totals       TotalsPolicy
	CartCounts   CartCounts
	Metrics      Recorder
	Logger       *logger.Logger
	PublicOrigin string
}

type service struct {
	repo         Repository
	tx           txRunner
	oracle       StockOracle
	outbox       OutboxEmitter
	totals       TotalsPolicy
	cartCounts   CartCounts
	metrics      Recorder
	logg         *logger.Logger
	publicOrigin string
	now          func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Oracle == nil {
		return nil, fmt.Errorf("stock oracle required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	totals := params.Totals
	if totals == nil {
		totals = ZeroTotals{}
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}
	cartCounts := params.CartCounts
	if cartCounts == nil {
		cartCounts = noopCartCounts{}
	}
	return &service{
		repo:         params.Repository,
		tx:           params.Tx,
		oracle:       params.Oracle,
		outbox:       params.Outbox,
		totals:       totals,
		cartCounts:   cartCounts,
		metrics:      metrics,
		logg:         params.Logger,
		publicOrigin: strings.TrimRight(params.PublicOrigin, "/"),
		now:          time.Now,
	}, nil
}

func (s *service) GetByID(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error) {
	order, err := s.loadOwned(ctx, s.repo, userID, orderID, false)
	if err != nil {
		return nil, err
	}
	return toView(order), nil
}

func (s *service) GetByNumber(ctx context.Context, userID uuid.UUID, number string) (*OrderView, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	order, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	// Another account's number reads as missing so numbers cannot be probed.
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return toView(order), nil
}

func (s *service) ListForAccount(ctx context.Context, userID uuid.UUID, params ListParams) (*OrderPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to list orders")
	}
	params.Status = nil
	return s.list(ctx, &userID, params)
}

func (s *service) AdminList(ctx context.Context, params ListParams) (*OrderPage, error) {
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status filter")
	}
	return s.list(ctx, nil, params)
}

func (s *service) list(ctx context.Context, userID *uuid.UUID, params ListParams) (*OrderPage, error) {
	page := params.Params.Normalize()
	rows, total, err := s.repo.List(ctx, ListFilter{
		UserID: userID,
		Status: params.Status,
		Limit:  page.Limit,
		Offset: page.Offset(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	out := &OrderPage{Orders: make([]OrderView, 0, len(rows))}
	for i := range rows {
		out.Orders = append(out.Orders, *toView(&rows[i]))
	}
	out.Meta = pagination.NewMeta(total, page)
	return out, nil
}

func (s *service) AdminGet(ctx context.Context, orderID uuid.UUID) (*OrderView, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	return toView(order), nil
}

// CancelOrder cancels a pending or processing order owned by userID. Stock
// goes back only if payment confirmation took it.
func (s *service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error) {
	var order *models.Order
	var restocked bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.loadOwned(ctx, s.repo.WithTx(tx), userID, orderID, true)
		if err != nil {
			return err
		}
		if !order.Status.Cancellable() {
			return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("order cannot be cancelled while %s", order.Status)).
				WithDetails(map[string]any{"status": order.Status})
		}
		restocked, err = s.cancelLocked(ctx, tx, order, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterCancel(ctx, order, restocked)
	return toView(order), nil
}

// cancelLocked moves a locked order to cancelled, restocking when stock was
// committed, and queues order_canceled. order is updated in place.
func (s *service) cancelLocked(ctx context.Context, tx *gorm.DB, order *models.Order, actorID uuid.UUID) (bool, error) {
	repo := s.repo.WithTx(tx)
	previous := order.Status
	now := s.now()

	restock := order.StockCommitted
	if restock {
		for _, item := range order.Items {
			target := catalog.TargetFor(item.ProductID, item.VariantID)
			if err := s.oracle.Restock(ctx, tx, target, item.Quantity); err != nil {
				return false, err
			}
		}
	}

	rows, err := repo.UpdateGuarded(ctx, order.ID, StateGuard{Status: previous}, map[string]any{
		"status":          enums.OrderStatusCancelled,
		"cancelled_at":    now,
		"stock_committed": false,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	if rows == 0 {
		return false, stateConflict(order.ID)
	}

	order.Status = enums.OrderStatusCancelled
	order.CancelledAt = &now
	order.StockCommitted = false

	err = s.emit(ctx, tx, order, enums.EventOrderCanceled, actorID, payloads.OrderCanceledEvent{
		OrderSnapshot:  snapshot(order),
		PreviousStatus: previous,
		Restocked:      restock,
		CanceledAt:     now,
	})
	return restock, err
}

func (s *service) afterCancel(ctx context.Context, order *models.Order, restocked bool) {
	s.metrics.ObserveOrderEvent(enums.EventOrderCanceled)
	s.info(ctx, "order cancelled", map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.Number,
		"restocked":    restocked,
	})
}

// RepayOrder reopens payment on an order. Inventory is not touched.
func (s *service) RepayOrder(ctx context.Context, userID, orderID uuid.UUID, origin string) (*RepayResult, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.loadOwned(ctx, s.repo.WithTx(tx), userID, orderID, true)
		if err != nil {
			return err
		}
		repayable := order.Status == enums.OrderStatusPending ||
			order.Status == enums.OrderStatusCancelled ||
			order.PaymentStatus == enums.PaymentStatusFailed
		if !repayable {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "order cannot be repaid").
				WithDetails(map[string]any{"status": order.Status, "paymentStatus": order.PaymentStatus})
		}

		previous, previousPayment := order.Status, order.PaymentStatus
		rows, err := s.repo.WithTx(tx).UpdateGuarded(ctx, order.ID, StateGuard{Status: previous, PaymentStatus: previousPayment}, map[string]any{
			"status":         enums.OrderStatusPending,
			"payment_status": enums.PaymentStatusPending,
			"cancelled_at":   nil,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reopen order")
		}
		if rows == 0 {
			return stateConflict(order.ID)
		}
		order.Status = enums.OrderStatusPending
		order.PaymentStatus = enums.PaymentStatusPending
		order.CancelledAt = nil

		return s.emit(ctx, tx, order, enums.EventOrderRetried, userID, payloads.OrderRetriedEvent{
			OrderSnapshot:         snapshot(order),
			PreviousStatus:        previous,
			PreviousPaymentStatus: previousPayment,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveOrderEvent(enums.EventOrderRetried)
	s.info(ctx, "order payment retried", map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.Number,
	})
	return &RepayResult{
		Order:      toView(order),
		PaymentURL: s.paymentURL(origin, order),
	}, nil
}

func (s *service) paymentURL(origin string, order *models.Order) string {
	base := strings.TrimRight(strings.TrimSpace(origin), "/")
	if base == "" {
		base = s.publicOrigin
	}
	return fmt.Sprintf("%s/checkout?repayOrder=%s&amount=%s", base, order.ID, order.Total.StringFixed(2))
}

// ConfirmPayment applies an opaque payment outcome. A successful payment is
// the only place stock is decremented.
func (s *service) ConfirmPayment(ctx context.Context, input ConfirmPaymentInput) (*OrderView, error) {
	if input.Outcome != PaymentOutcomePaid && input.Outcome != PaymentOutcomeFailed {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment outcome must be paid or failed")
	}

	var order *models.Order
	var eventType enums.OutboxEventType
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return notFoundOr(err, "load order")
		}
		if order.PaymentStatus != enums.PaymentStatusPending {
			return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("payment already %s", order.PaymentStatus)).
				WithDetails(map[string]any{"paymentStatus": order.PaymentStatus})
		}
		guard := StateGuard{Status: order.Status, PaymentStatus: order.PaymentStatus}

		if input.Outcome == PaymentOutcomeFailed {
			eventType = enums.EventPaymentFailed
			rows, err := repo.UpdateGuarded(ctx, order.ID, guard, map[string]any{
				"payment_status": enums.PaymentStatusFailed,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment failure")
			}
			if rows == 0 {
				return stateConflict(order.ID)
			}
			order.PaymentStatus = enums.PaymentStatusFailed
			return s.emit(ctx, tx, order, eventType, input.ActorID, payloads.PaymentFailedEvent{
				OrderSnapshot: snapshot(order),
				Reason:        input.Reason,
			})
		}

		if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusProcessing {
			return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("cannot take payment while %s", order.Status)).
				WithDetails(map[string]any{"status": order.Status})
		}
		eventType = enums.EventOrderPaid
		for _, item := range order.Items {
			target := catalog.TargetFor(item.ProductID, item.VariantID)
			if err := s.oracle.Decrement(ctx, tx, target, item.Quantity); err != nil {
				return err
			}
		}
		now := s.now()
		rows, err := repo.UpdateGuarded(ctx, order.ID, guard, map[string]any{
			"payment_status":  enums.PaymentStatusPaid,
			"status":          enums.OrderStatusProcessing,
			"stock_committed": true,
			"paid_at":         now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
		}
		if rows == 0 {
			return stateConflict(order.ID)
		}
		order.PaymentStatus = enums.PaymentStatusPaid
		order.Status = enums.OrderStatusProcessing
		order.StockCommitted = true
		order.PaidAt = &now
		return s.emit(ctx, tx, order, eventType, input.ActorID, payloads.OrderPaidEvent{
			OrderSnapshot: snapshot(order),
			PaidAt:        now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveOrderEvent(eventType)
	s.info(ctx, "order payment recorded", map[string]any{
		"order_id":       order.ID.String(),
		"payment_status": order.PaymentStatus,
	})
	return toView(order), nil
}

// AdminUpdateStatus moves an order to a new fulfillment status. Terminal
// orders cannot move; cancelled orders reopen only through repay. Moving to
// cancelled takes the same path as a shopper cancel.
func (s *service) AdminUpdateStatus(ctx context.Context, input StatusUpdateInput) (*OrderView, error) {
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}

	var (
		order     *models.Order
		previous  enums.OrderStatus
		changed   bool
		restocked bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return notFoundOr(err, "load order")
		}
		previous = order.Status
		if previous == input.Status {
			return nil
		}
		if previous.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("order is %s and can no longer change", previous)).
				WithDetails(map[string]any{"status": previous, "requested": input.Status})
		}
		changed = true

		if input.Status == enums.OrderStatusCancelled {
			restocked, err = s.cancelLocked(ctx, tx, order, input.ActorID)
			return err
		}

		rows, err := repo.UpdateGuarded(ctx, order.ID, StateGuard{Status: previous}, map[string]any{
			"status": input.Status,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if rows == 0 {
			return stateConflict(order.ID)
		}
		order.Status = input.Status
		return s.emit(ctx, tx, order, enums.EventOrderStatusChanged, input.ActorID, payloads.OrderStatusChangedEvent{
			OrderSnapshot:  snapshot(order),
			PreviousStatus: previous,
		})
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return toView(order), nil
	}

	if order.Status == enums.OrderStatusCancelled {
		s.afterCancel(ctx, order, restocked)
	} else {
		s.metrics.ObserveOrderEvent(enums.EventOrderStatusChanged)
		s.info(ctx, "order status updated", map[string]any{
			"order_id": order.ID.String(),
			"from":     previous,
			"to":       order.Status,
		})
	}
	return toView(order), nil
}

func (s *service) loadOwned(ctx context.Context, repo Repository, userID, orderID uuid.UUID, lock bool) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to manage orders")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var (
		order *models.Order
		err   error
	)
	if lock {
		order, err = repo.FindByIDForUpdate(ctx, orderID)
	} else {
		order, err = repo.FindByID(ctx, orderID)
	}
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another account")
	}
	return order, nil
}

func notFoundOr(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}

func stateConflict(orderID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently; retry").
		WithDetails(map[string]any{"orderId": orderID})
}

func (s *service) info(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}

func (s *service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}
