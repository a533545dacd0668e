// Package orders exposes checkout, order history and the admin order desk.
package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	ordersvc "github.com/angelmondragon/storefront-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const maxOrderNumberLen = 32

var errUnavailable = pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable")

type action func(r *http.Request) (any, error)

// endpoint guards against an unwired service before running fn.
func endpoint(svc ordersvc.Service, logg *logger.Logger, status int, fn action) http.HandlerFunc {
	return responses.Serve(logg, status, func(_ http.ResponseWriter, r *http.Request) (any, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		return fn(r)
	})
}

func accountFrom(r *http.Request) (uuid.UUID, error) {
	if id, ok := middleware.AccountIDFromContext(r.Context()); ok {
		return id, nil
	}
	return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
}

// accountAndOrder reads the caller and the {orderId} path parameter.
func accountAndOrder(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	accountID, err := accountFrom(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	orderID, err := validators.ParseUUIDParam(r, "orderId")
	return accountID, orderID, err
}

// CreateOrder checks out the caller's active cart.
func CreateOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, logg, http.StatusCreated, func(r *http.Request) (any, error) {
		accountID, err := accountFrom(r)
		if err != nil {
			return nil, err
		}
		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.CreateOrder(r.Context(), accountID, payload.toInput())
	})
}

func ListOrders(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, logg, http.StatusOK, func(r *http.Request) (any, error) {
		accountID, err := accountFrom(r)
		if err != nil {
			return nil, err
		}
		page, err := validators.ParsePage(r)
		if err != nil {
			return nil, err
		}
		return svc.ListForAccount(r.Context(), accountID, ordersvc.ListParams{Params: page})
	})
}

func GetOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, logg, http.StatusOK, func(r *http.Request) (any, error) {
		accountID, orderID, err := accountAndOrder(r)
		if err != nil {
			return nil, err
		}
		return svc.GetByID(r.Context(), accountID, orderID)
	})
}

// GetOrderByNumber accepts the number in any case.
func GetOrderByNumber(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, logg, http.StatusOK, func(r *http.Request) (any, error) {
		accountID, err := accountFrom(r)
		if err != nil {
			return nil, err
		}
		number := strings.ToUpper(validators.SanitizeString(chi.URLParam(r, "number"), maxOrderNumberLen))
		return svc.GetByNumber(r.Context(), accountID, number)
	})
}

func CancelOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, logg, http.StatusOK, func(r *http.Request) (any, error) {
		accountID, orderID, err := accountAndOrder(r)
		if err != nil {
			return nil, err
		}
		return svc.CancelOrder(r.Context(), accountID, orderID)
	})
}

// RepayOrder reopens an order for payment. The payment link is built on the
// caller's Origin when it is one of allowedOrigins; otherwise the service
// uses the public origin.
func RepayOrder(svc ordersvc.Service, allowedOrigins []string, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, logg, http.StatusOK, func(r *http.Request) (any, error) {
		accountID, orderID, err := accountAndOrder(r)
		if err != nil {
			return nil, err
		}
		return svc.RepayOrder(r.Context(), accountID, orderID, trustedOrigin(r, allowedOrigins))
	})
}

func trustedOrigin(r *http.Request, allowed []string) string {
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" {
		return ""
	}
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimRight(candidate, "/"), origin) {
			return origin
		}
	}
	return ""
}
