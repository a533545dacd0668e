package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type windowCounter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy is a request budget for one route group. A zero window or
// limit turns it off.
type RateLimitPolicy struct {
	name   string
	window time.Duration
	limit  int64
}

func NewRateLimitPolicy(name string, window time.Duration, limit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "api"
	}
	return RateLimitPolicy{name: name, window: window, limit: int64(limit)}
}

func (p RateLimitPolicy) off() bool { return p.window <= 0 || p.limit <= 0 }

// bucket picks the account when the request is authenticated and the client
// address otherwise.
func (p RateLimitPolicy) bucket(r *http.Request) (key, kind string) {
	kind, who := "ip", clientIP(r)
	if userID := UserIDFromContext(r.Context()); userID != "" {
		kind, who = "user", userID
	}
	return strings.Join([]string{p.name, kind, who}, ":"), kind
}

// RateLimit counts requests per fixed window. Mount it after Auth so signed
// in callers get their own bucket.
func RateLimit(policy RateLimitPolicy, counter windowCounter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if policy.off() || counter == nil {
			return next
		}
		retryAfter := strconv.Itoa(int(policy.window.Seconds()))
		limit := strconv.FormatInt(policy.limit, 10)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key, kind := policy.bucket(r)

			allowed, hits, err := counter.FixedWindowAllow(ctx, key, policy.limit, policy.window)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(policy.limit-hits, 0), 10))
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			if logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{
					"policy": policy.name,
					"scope":  kind,
					"hits":   hits,
					"limit":  policy.limit,
				}), "rate_limit.blocked")
			}
			w.Header().Set("Retry-After", retryAfter)
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests, slow down"))
		})
	}
}

// clientIP reads RemoteAddr only. The router mounts chi's RealIP, which
// rewrites it from the proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
