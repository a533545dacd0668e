package orders

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/validators"
	ordersvc "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// AdminListOrders lists every order newest first. ?status= narrows the list
// and is matched case-insensitively.
func AdminListOrders(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, logg, http.StatusOK, func(r *http.Request) (any, error) {
		page, err := validators.ParsePage(r)
		if err != nil {
			return nil, err
		}
		params := ordersvc.ListParams{Params: page}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseOrderStatus(strings.ToLower(raw))
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").
					WithDetails(map[string]any{"field": "status"})
			}
			params.Status = &status
		}
		return svc.AdminList(r.Context(), params)
	})
}

func AdminGetOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, logg, http.StatusOK, func(r *http.Request) (any, error) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			return nil, err
		}
		return svc.AdminGet(r.Context(), orderID)
	})
}

func AdminUpdateStatus(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, logg, http.StatusOK, func(r *http.Request) (any, error) {
		actorID, orderID, err := accountAndOrder(r)
		if err != nil {
			return nil, err
		}
		var payload statusUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.AdminUpdateStatus(r.Context(), ordersvc.StatusUpdateInput{
			OrderID: orderID,
			Status:  enums.OrderStatus(payload.Status),
			ActorID: actorID,
		})
	})
}

// AdminConfirmPayment records the outcome the payment collaborator reported.
func AdminConfirmPayment(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, logg, http.StatusOK, func(r *http.Request) (any, error) {
		actorID, orderID, err := accountAndOrder(r)
		if err != nil {
			return nil, err
		}
		var payload paymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		if logg != nil {
			logg.Info(logg.WithFields(r.Context(), map[string]any{
				"order_id": orderID.String(),
				"actor_id": actorID.String(),
				"outcome":  payload.Outcome,
			}), "payment confirmation received")
		}
		return svc.ConfirmPayment(r.Context(), ordersvc.ConfirmPaymentInput{
			OrderID: orderID,
			Outcome: ordersvc.PaymentOutcome(payload.Outcome),
			Reason:  payload.reason(),
			ActorID: actorID,
		})
	})
}
