package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	orderMutationTTL = 24 * time.Hour
	checkoutTTL      = 7 * 24 * time.Hour
	// a reservation outlives any sane handler; a crashed request frees the key after this.
	inFlightTTL = 2 * time.Minute

	maxIdempotencyKeyLen = 255
)

// ResponseStore persists replayable responses keyed by client key.
type ResponseStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

// guardedRoute patterns use path.Match syntax; * spans one non-empty segment.
type guardedRoute struct {
	method  string
	pattern string
	ttl     time.Duration
}

var guardedRoutes = []guardedRoute{
	{http.MethodPost, "/api/v1/orders", checkoutTTL},
	{http.MethodPost, "/api/v1/orders/*/cancel", checkoutTTL},
	{http.MethodPost, "/api/v1/orders/*/repay", checkoutTTL},
	{http.MethodPost, "/api/admin/v1/orders/*/payment", orderMutationTTL},
	{http.MethodPatch, "/api/admin/v1/orders/*/status", orderMutationTTL},
}

func guardedTTL(method, urlPath string) (time.Duration, bool) {
	if strings.Contains(urlPath, "//") {
		return 0, false
	}
	for _, route := range guardedRoutes {
		if route.method != method {
			continue
		}
		if ok, _ := path.Match(route.pattern, urlPath); ok {
			return route.ttl, true
		}
	}
	return 0, false
}

type entryState string

const (
	statePending   entryState = "pending"
	stateCompleted entryState = "completed"
)

type storedEntry struct {
	State       entryState        `json:"state"`
	RequestHash string            `json:"request_hash"`
	Status      int               `json:"status,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body,omitempty"`
}

// headers copied into a stored response; everything else is recomputed on replay.
var replayedHeaders = []string{"Content-Type", "Location"}

// Idempotency makes checkout and order transitions safe to retry. The first
// request reserves the key, concurrent duplicates are rejected, and finished
// responses below 500 are replayed byte for byte.
func Idempotency(store ResponseStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, guarded := guardedTTL(r.Method, r.URL.Path)
			if !guarded || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			switch {
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintBody(body)
			key := store.IdempotencyKey(requestScope(r), clientKey)

			pending, _ := json.Marshal(storedEntry{State: statePending, RequestHash: fingerprint})
			reserved, err := store.SetNX(ctx, key, string(pending), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayExisting(ctx, store, logg, w, key, fingerprint)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			if capture.statusCode() >= http.StatusInternalServerError {
				if delErr := store.Del(ctx, key); delErr != nil && logg != nil {
					logg.Error(ctx, "idempotency.release_failed", delErr)
				}
				return
			}

			entry := storedEntry{
				State:       stateCompleted,
				RequestHash: fingerprint,
				Status:      capture.statusCode(),
				Body:        capture.body.Bytes(),
			}
			for _, name := range replayedHeaders {
				if v := capture.Header().Get(name); v != "" {
					if entry.Headers == nil {
						entry.Headers = map[string]string{}
					}
					entry.Headers[name] = v
				}
			}
			payload, err := json.Marshal(entry)
			if err == nil {
				err = store.Set(ctx, key, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "idempotency.persist_failed", err)
			}
		})
	}
}

func replayExisting(ctx context.Context, store ResponseStore, logg *logger.Logger, w http.ResponseWriter, key, fingerprint string) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// the first attempt failed and released the key between our calls
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is being retried, try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}

	var entry storedEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	if entry.RequestHash != fingerprint {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if entry.State != stateCompleted {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}

	for name, value := range entry.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

// requestScope keeps keys from colliding across callers and endpoints.
func requestScope(r *http.Request) string {
	caller := UserIDFromContext(r.Context())
	if caller == "" {
		caller = "anonymous"
	}
	return caller + "|" + r.Method + "|" + r.URL.Path
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
