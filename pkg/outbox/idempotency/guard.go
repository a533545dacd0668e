// Package idempotency makes Pub/Sub handlers effectively once-only.
//
// A delivery first takes a short "pending" lease on
// sf:idempotency:evt:<consumer>:<event_id>. Success turns the lease into a
// "done" mark kept for the full TTL; failure drops it so the redelivery can
// run. A handler that crashes mid-flight leaves only the lease, which expires
// on its own.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	markPending = "pending"
	markDone    = "done"

	// DefaultLease bounds how long a crashed handler blocks redelivery.
	DefaultLease = 5 * time.Minute
)

// ErrInFlight means another delivery of the same event is running. Callers
// should nack so Pub/Sub redelivers after the lease settles.
var ErrInFlight = errors.New("event is being handled by another delivery")

// Store is satisfied by *redis.Client.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type Guard struct {
	store Store
	ttl   time.Duration
	lease time.Duration
}

// NewGuard keeps done marks for ttl. A zero ttl keeps them forever.
func NewGuard(store Store, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	lease := DefaultLease
	if ttl > 0 && ttl < lease {
		lease = ttl
	}
	return &Guard{store: store, ttl: ttl, lease: lease}, nil
}

// Once runs handle unless consumer already finished eventID. duplicate is
// true when the event was skipped. While another delivery holds the lease
// Once returns ErrInFlight without calling handle.
func (g *Guard) Once(ctx context.Context, consumer string, eventID uuid.UUID, handle func(context.Context) error) (duplicate bool, err error) {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return false, err
	}

	acquired, err := g.store.SetNX(ctx, key, markPending, g.lease)
	if err != nil {
		return false, fmt.Errorf("take idempotency lease: %w", err)
	}
	if !acquired {
		return g.settled(ctx, key)
	}

	if err := handle(ctx); err != nil {
		if delErr := g.store.Del(context.WithoutCancel(ctx), key); delErr != nil {
			return false, errors.Join(err, fmt.Errorf("drop idempotency lease: %w", delErr))
		}
		return false, err
	}
	if err := g.store.Set(ctx, key, markDone, g.ttl); err != nil {
		// the handler ran; a lost done mark only risks one extra delivery
		return false, fmt.Errorf("record idempotency mark: %w", err)
	}
	return false, nil
}

// Forget clears any mark so the next delivery of eventID runs again.
func (g *Guard) Forget(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) settled(ctx context.Context, key string) (bool, error) {
	state, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// lease expired between SETNX and GET
		return false, ErrInFlight
	case err != nil:
		return false, fmt.Errorf("read idempotency mark: %w", err)
	case state == markPending:
		return false, ErrInFlight
	default:
		return true, nil
	}
}

func (g *Guard) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
