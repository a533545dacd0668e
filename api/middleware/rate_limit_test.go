package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLimiter struct {
	counts map[string]int64
	err    error
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{counts: map[string]int64{}}
}

func (f *fakeLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	limiter := newFakeLimiter()
	handler := RateLimit(NewRateLimitPolicy(" Cart ", time.Minute, 2), limiter, nil)(okHandler())

	var last *httptest.ResponseRecorder
	codes := make([]int, 0, 3)
	remaining := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		codes = append(codes, last.Code)
		remaining = append(remaining, last.Header().Get("X-RateLimit-Remaining"))
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, []string{"1", "0", "0"}, remaining)
	assert.Equal(t, "2", last.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "60", last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), `"RATE_LIMIT_EXCEEDED"`)
	assert.Contains(t, limiter.counts, "cart:ip:10.0.0.1")
}

func TestRateLimitKeysAuthenticatedCallersByAccount(t *testing.T) {
	limiter := newFakeLimiter()
	handler := RateLimit(NewRateLimitPolicy("checkout", time.Minute, 1), limiter, nil)(okHandler())

	for _, user := range []string{"user-a", "user-b"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
		req = req.WithContext(WithUserID(req.Context(), user))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		require.Equal(t, http.StatusOK, resp.Code)
	}
	assert.Equal(t, map[string]int64{"checkout:user:user-a": 1, "checkout:user:user-b": 1}, limiter.counts)
}

func TestRateLimitSurfacesStoreFailure(t *testing.T) {
	limiter := newFakeLimiter()
	limiter.err = errors.New("redis down")
	handler := RateLimit(NewRateLimitPolicy("cart", time.Minute, 5), limiter, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Empty(t, resp.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	for name, policy := range map[string]RateLimitPolicy{
		"no window": NewRateLimitPolicy("cart", 0, 10),
		"no limit":  NewRateLimitPolicy("cart", time.Minute, 0),
	} {
		t.Run(name, func(t *testing.T) {
			handler := RateLimit(policy, newFakeLimiter(), nil)(okHandler())
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
			assert.Equal(t, http.StatusOK, resp.Code)
			assert.Empty(t, resp.Header().Get("X-RateLimit-Limit"))
		})
	}
}

func TestClientIPStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:9000"
	assert.Equal(t, "10.1.1.1", clientIP(req))

	// chi's RealIP leaves a bare address behind
	req.RemoteAddr = "203.0.113.5"
	assert.Equal(t, "203.0.113.5", clientIP(req))
}
