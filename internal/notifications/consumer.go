// Package notifications turns order events from Pub/Sub into customer e-mails.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

const consumerName = "notifications-worker"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type recipientLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type idempotencyGuard interface {
	Once(ctx context.Context, consumer string, eventID uuid.UUID, handle func(context.Context) error) (bool, error)
}

// ConsumerParams wires the notification consumer.
type ConsumerParams struct {
	Subscription receiver
	Users        recipientLookup
	Mailer       Mailer
	Idempotency  idempotencyGuard
	Logger       *logger.Logger
}

// Consumer mails customers when their orders are created, cancelled or move
// through fulfilment.
type Consumer struct {
	subscription receiver
	users        recipientLookup
	mailer       Mailer
	idempotency  idempotencyGuard
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: params.Subscription,
		users:        params.Users,
		mailer:       params.Mailer,
		idempotency:  params.Idempotency,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.handle(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

func mailable(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventOrderCreated, enums.EventOrderCanceled, enums.EventOrderStatusChanged:
		return true
	}
	return false
}

// handle reports whether the message should be acked. Malformed messages are
// acked so they do not loop; delivery failures are nacked for redelivery.
func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) bool {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	ctx = c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if !mailable(eventType) {
		c.logg.Debug(ctx, "skipping event without e-mail")
		return true
	}

	envelope, err := registry.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(ctx, "failed to decode envelope", err)
		return true
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(ctx, "invalid event id", err)
		return true
	}
	payload, err := registry.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(ctx, "failed to decode payload", err)
		return true
	}
	ctx = c.logg.WithField(ctx, "event_id", envelope.EventID)

	skipped, err := c.idempotency.Once(ctx, consumerName, eventID, func(ctx context.Context) error {
		return c.dispatch(ctx, payload)
	})
	if errors.Is(err, idempotency.ErrInFlight) {
		c.logg.Info(ctx, "event in flight elsewhere, redelivering")
		return false
	}
	if err != nil {
		c.logg.Error(ctx, "order notification failed", err)
		return false
	}
	if skipped {
		c.logg.Info(ctx, "event already processed")
	}
	return true
}

func (c *Consumer) dispatch(ctx context.Context, payload any) error {
	switch event := payload.(type) {
	case *payloads.OrderCreatedEvent:
		to, ok, err := c.recipient(ctx, event.OrderSnapshot)
		if err != nil || !ok {
			return err
		}
		return c.mailer.SendOrderConfirmation(ctx, to, *event)
	case *payloads.OrderCanceledEvent:
		to, ok, err := c.recipient(ctx, event.OrderSnapshot)
		if err != nil || !ok {
			return err
		}
		return c.mailer.SendOrderCancellation(ctx, to, *event)
	case *payloads.OrderStatusChangedEvent:
		to, ok, err := c.recipient(ctx, event.OrderSnapshot)
		if err != nil || !ok {
			return err
		}
		return c.mailer.SendOrderStatusUpdate(ctx, to, *event)
	default:
		return fmt.Errorf("unexpected payload %T", payload)
	}
}

// recipient resolves the order owner. A deleted account is not an error: the
// e-mail is dropped.
func (c *Consumer) recipient(ctx context.Context, order payloads.OrderSnapshot) (Recipient, bool, error) {
	user, err := c.users.FindByID(ctx, order.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.logg.Warn(c.logg.WithField(ctx, "user_id", order.UserID.String()), "order owner not found, e-mail dropped")
		return Recipient{}, false, nil
	}
	if err != nil {
		return Recipient{}, false, fmt.Errorf("lookup recipient: %w", err)
	}
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	return Recipient{Email: user.Email, Name: name}, true, nil
}
