package cart

import (
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/pkg/config"
)

// Settings controls the anonymous session cookie and request limits.
type Settings struct {
	CookieName   string
	CookieTTL    time.Duration
	CookieSecure bool
	MaxSyncItems int
}

func SettingsFrom(cfg config.CartConfig) Settings {
	return Settings{
		CookieName:   cfg.CookieName,
		CookieTTL:    cfg.CookieTTL,
		CookieSecure: cfg.CookieSecure,
		MaxSyncItems: cfg.MaxSyncItems,
	}
}

func (c Settings) name() string {
	if strings.TrimSpace(c.CookieName) == "" {
		return "sessionId"
	}
	return c.CookieName
}

// identityFrom combines the bearer account, if any, with the session cookie.
func identityFrom(r *http.Request, cookies Settings) cartsvc.Identity {
	identity := cartsvc.Identity{}
	if cookie, err := r.Cookie(cookies.name()); err == nil {
		identity.SessionID = strings.TrimSpace(cookie.Value)
	}
	if accountID, ok := middleware.AccountIDFromContext(r.Context()); ok {
		identity.AccountID = &accountID
	}
	return identity
}

func applyCookie(w http.ResponseWriter, directive *cartsvc.CookieDirective, cookies Settings) {
	if directive == nil {
		return
	}
	cookie := &http.Cookie{
		Name:     cookies.name(),
		Path:     "/",
		HttpOnly: true,
		Secure:   cookies.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
	switch directive.Action {
	case cartsvc.CookieActionSet:
		cookie.Value = directive.Value
		cookie.MaxAge = int(cookies.CookieTTL.Seconds())
		if cookies.CookieTTL > 0 {
			cookie.Expires = time.Now().Add(cookies.CookieTTL)
		}
	case cartsvc.CookieActionClear:
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
	default:
		return
	}
	http.SetCookie(w, cookie)
}
