package redis

import "strings"

// Key layout: sf:<kind>:<parts...>. Blank parts are skipped.
const (
	keyNamespace      = "sf"
	idempotencyPrefix = "idempotency"
	rateLimitPrefix   = "rate_limit"
	cartCountPrefix   = "cart:count"
	lockPrefix        = "lock"
)

func buildKey(parts ...string) string {
	kept := []string{keyNamespace}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ":")
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(rateLimitPrefix, scope)
}

// CartCountKey takes a cart identity, user:<id> or session:<id>.
func (c *Client) CartCountKey(identity string) string {
	return buildKey(cartCountPrefix, identity)
}

func (c *Client) LockKey(name string) string {
	return buildKey(lockPrefix, name)
}
