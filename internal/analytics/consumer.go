// Package analytics streams published order events into BigQuery.
package analytics

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

const consumerName = "analytics"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type rowWriter interface {
	Write(ctx context.Context, row *OrderEventRow) error
}

type onceGuard interface {
	Once(ctx context.Context, consumer string, eventID uuid.UUID, handle func(context.Context) error) (bool, error)
}

type ConsumerParams struct {
	Subscription receiver
	Rows         rowWriter
	Guard        onceGuard
	Logger       *logger.Logger
}

type Consumer struct {
	subscription receiver
	rows         rowWriter
	guard        onceGuard
	logg         *logger.Logger
}

func NewConsumer(p ConsumerParams) (*Consumer, error) {
	switch {
	case p.Subscription == nil:
		return nil, errors.New("analytics: subscription required")
	case p.Rows == nil:
		return nil, errors.New("analytics: row writer required")
	case p.Guard == nil:
		return nil, errors.New("analytics: idempotency guard required")
	case p.Logger == nil:
		return nil, errors.New("analytics: logger required")
	}
	return &Consumer{
		subscription: p.Subscription,
		rows:         p.Rows,
		guard:        p.Guard,
		logg:         p.Logger,
	}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.handle(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// handle reports whether msg is settled. Messages that can never produce a
// row are acked; storage failures and events another worker is still
// handling are nacked for redelivery.
func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) bool {
	ctx = c.logg.WithField(ctx, "message_id", msg.ID)

	env, err := envelopeFromMessage(msg)
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "dropping malformed analytics message")
		return true
	}
	ctx = c.logg.WithFields(ctx, map[string]any{
		"event_id":     env.EventID.String(),
		"event_type":   env.EventType,
		"aggregate_id": env.AggregateID,
	})
	if !tracked[env.EventType] {
		c.logg.Debug(ctx, "event not tracked by analytics")
		return true
	}

	row, err := c.rowFor(env)
	if err != nil {
		c.logg.Error(ctx, "dropping undecodable order event", err)
		return true
	}

	duplicate, err := c.guard.Once(ctx, consumerName, env.EventID, func(ctx context.Context) error {
		return c.rows.Write(ctx, row)
	})
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		c.logg.Info(ctx, "event in flight elsewhere, redelivering")
		return false
	case err != nil:
		c.logg.Error(ctx, "order event row not stored", err)
		return false
	case duplicate:
		c.logg.Info(ctx, "event already processed")
	default:
		c.logg.Debug(ctx, "order event row stored")
	}
	return true
}

func (c *Consumer) rowFor(env Envelope) (*OrderEventRow, error) {
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("empty payload for %s", env.EventType)
	}
	payload, err := registry.Decode(env.EventType, env.Version, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s v%d: %w", env.EventType, env.Version, err)
	}
	return orderEventRow(env, payload)
}
