package cart

import (
	"strings"

	"github.com/google/uuid"
)

// Identity is who a cart belongs to: an authenticated account or an anonymous
// session token carried in a cookie. Both may be present during login, when
// the session still points at the guest cart.
type Identity struct {
	AccountID *uuid.UUID
	SessionID string
}

// AccountIdentity builds an identity for a signed-in user.
func AccountIdentity(userID uuid.UUID) Identity {
	id := userID
	return Identity{AccountID: &id}
}

// SessionIdentity builds an identity for an anonymous shopper.
func SessionIdentity(sessionID string) Identity {
	return Identity{SessionID: strings.TrimSpace(sessionID)}
}

func (i Identity) IsAccount() bool {
	return i.AccountID != nil && *i.AccountID != uuid.Nil
}

func (i Identity) HasSession() bool {
	return strings.TrimSpace(i.SessionID) != ""
}

// IsZero reports an identity with neither an account nor a session.
func (i Identity) IsZero() bool {
	return !i.IsAccount() && !i.HasSession()
}

// cacheKey names the identity inside the count cache. The account wins when
// both are set since that is the cart every read resolves to.
func (i Identity) cacheKey() string {
	if keys := i.cacheKeys(); len(keys) > 0 {
		return keys[0]
	}
	return ""
}

// AccountCountKey is the count cache key of a signed-in user's cart.
func AccountCountKey(userID uuid.UUID) string {
	return "user:" + userID.String()
}

func (i Identity) cacheKeys() []string {
	keys := make([]string, 0, 2)
	if i.IsAccount() {
		keys = append(keys, AccountCountKey(*i.AccountID))
	}
	if i.HasSession() {
		keys = append(keys, "session:"+i.SessionID)
	}
	return keys
}

// CookieAction says what the transport should do with the session cookie.
type CookieAction string

const (
	CookieActionSet   CookieAction = "set"
	CookieActionClear CookieAction = "clear"
)

// CookieDirective is returned by operations that mint or retire an anonymous
// session. The HTTP layer owns the cookie name, lifetime and flags.
type CookieDirective struct {
	Action CookieAction
	Value  string
}

func setSessionCookie(sessionID string) *CookieDirective {
	return &CookieDirective{Action: CookieActionSet, Value: sessionID}
}

func clearSessionCookie() *CookieDirective {
	return &CookieDirective{Action: CookieActionClear}
}
