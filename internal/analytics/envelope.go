package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

// Envelope is an order event as delivered by Pub/Sub: routing facts from the
// message attributes plus the stored outbox envelope from the body.
type Envelope struct {
	EventID       uuid.UUID
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	Version       int
	OccurredAt    time.Time
	Payload       json.RawMessage
}

func envelopeFromMessage(msg *pubsub.Message) (Envelope, error) {
	stored, err := registry.DecodeEnvelope(msg.Data)
	if err != nil {
		return Envelope{}, err
	}
	attr := func(key string) string { return strings.TrimSpace(msg.Attributes[key]) }

	env := Envelope{
		EventType:   enums.OutboxEventType(attr("event_type")),
		AggregateID: attr("aggregate_id"),
		Version:     stored.Version,
		OccurredAt:  stored.OccurredAt,
		Payload:     stored.Data,
	}
	if env.EventType == "" {
		return Envelope{}, errors.New("event_type attribute missing")
	}
	if env.AggregateID == "" {
		return Envelope{}, errors.New("aggregate_id attribute missing")
	}
	if env.AggregateType, err = enums.ParseOutboxAggregateType(attr("aggregate_type")); err != nil {
		return Envelope{}, fmt.Errorf("aggregate_type: %w", err)
	}

	rawID := strings.TrimSpace(stored.EventID)
	if rawID == "" {
		rawID = attr("event_id")
	}
	if env.EventID, err = uuid.Parse(rawID); err != nil {
		return Envelope{}, fmt.Errorf("event id %q: %w", rawID, err)
	}

	// envelopes written before occurredAt existed only have the row timestamp
	if env.OccurredAt.IsZero() {
		if created, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			env.OccurredAt = created
		}
	}
	if env.Version == 0 {
		env.Version = 1
	}
	return env, nil
}
