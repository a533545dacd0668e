// Package cart serves the shopping cart for guests and signed-in accounts.
// Guests are identified by the session cookie the first write mints.
package cart

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

var errUnavailable = pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable")

type action func(w http.ResponseWriter, r *http.Request, identity cartsvc.Identity) (any, error)

// endpoint resolves the caller's identity and hands it to fn.
func endpoint(svc cartsvc.Service, settings Settings, logg *logger.Logger, status int, fn action) http.HandlerFunc {
	return responses.Serve(logg, status, func(w http.ResponseWriter, r *http.Request) (any, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		return fn(w, r, identityFrom(r, settings))
	})
}

// GetCart returns the caller's cart. A guest without a session gets an empty
// cart and no cookie.
func GetCart(svc cartsvc.Service, settings Settings, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, settings, logg, http.StatusOK, func(_ http.ResponseWriter, r *http.Request, id cartsvc.Identity) (any, error) {
		return svc.GetCart(r.Context(), id)
	})
}

// CountItems serves the header badge.
func CountItems(svc cartsvc.Service, settings Settings, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, settings, logg, http.StatusOK, func(_ http.ResponseWriter, r *http.Request, id cartsvc.Identity) (any, error) {
		count, err := svc.CountItems(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return countResponse{Count: count}, nil
	})
}

// AddItem mints a guest session when the caller has none.
func AddItem(svc cartsvc.Service, settings Settings, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, settings, logg, http.StatusCreated, func(w http.ResponseWriter, r *http.Request, id cartsvc.Identity) (any, error) {
		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		result, err := svc.AddItem(r.Context(), id, payload.toInput())
		if err != nil {
			return nil, err
		}
		applyCookie(w, result.Cookie, settings)
		return result.Cart, nil
	})
}

func UpdateItem(svc cartsvc.Service, settings Settings, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, settings, logg, http.StatusOK, func(_ http.ResponseWriter, r *http.Request, id cartsvc.Identity) (any, error) {
		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			return nil, err
		}
		var payload updateQuantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.UpdateItemQuantity(r.Context(), id, itemID, payload.Quantity)
	})
}

func RemoveItem(svc cartsvc.Service, settings Settings, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, settings, logg, http.StatusOK, func(_ http.ResponseWriter, r *http.Request, id cartsvc.Identity) (any, error) {
		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			return nil, err
		}
		return svc.RemoveItem(r.Context(), id, itemID)
	})
}

func ClearCart(svc cartsvc.Service, settings Settings, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, settings, logg, http.StatusOK, func(_ http.ResponseWriter, r *http.Request, id cartsvc.Identity) (any, error) {
		return svc.ClearCart(r.Context(), id)
	})
}

// MergeCart folds the cookie's guest cart into the account cart and retires
// the cookie.
func MergeCart(svc cartsvc.Service, settings Settings, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, settings, logg, http.StatusOK, func(w http.ResponseWriter, r *http.Request, id cartsvc.Identity) (any, error) {
		result, err := svc.MergeGuestCart(r.Context(), id)
		if err != nil {
			return nil, err
		}
		applyCookie(w, result.Cookie, settings)
		return result.Cart, nil
	})
}

// SyncCart replaces the account cart with the client's local copy.
func SyncCart(svc cartsvc.Service, settings Settings, logg *logger.Logger) http.HandlerFunc {
	return endpoint(svc, settings, logg, http.StatusOK, func(_ http.ResponseWriter, r *http.Request, id cartsvc.Identity) (any, error) {
		var payload syncRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		if limit := settings.MaxSyncItems; limit > 0 && len(payload.Items) > limit {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d items can be synced", limit))
		}
		return svc.SyncFromClientState(r.Context(), id, payload.toInput())
	})
}
